package crdt

import (
	"encoding/binary"
	"fmt"
)

// Wire layout, all integers unsigned varints.
//
//	update       := opCount op*
//	op           := kind client clock originClient originClock [len content]
//	state vector := entryCount (client clock)*
//
// Content is present for inserts only. The layout is deliberately
// self-contained: a full-state encoding and an incremental update share the
// same shape, so hydration and live merge go through one decoder.

func encodeUpdate(ops []Op) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(ops)))
	for _, op := range ops {
		buf = append(buf, byte(op.Kind))
		buf = binary.AppendUvarint(buf, op.ID.Client)
		buf = binary.AppendUvarint(buf, op.ID.Clock)
		buf = binary.AppendUvarint(buf, op.Origin.Client)
		buf = binary.AppendUvarint(buf, op.Origin.Clock)
		if op.Kind == opInsert {
			buf = binary.AppendUvarint(buf, uint64(len(op.Content)))
			buf = append(buf, op.Content...)
		}
	}
	return buf
}

func decodeUpdate(data []byte) ([]Op, error) {
	r := reader{buf: data}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(data)) {
		// Each op takes at least one byte; anything larger is garbage.
		return nil, fmt.Errorf("%w: implausible op count %d", ErrCorrupt, count)
	}

	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		kind, err := r.byte()
		if err != nil {
			return nil, err
		}
		if opKind(kind) != opInsert && opKind(kind) != opDelete {
			return nil, fmt.Errorf("%w: unknown op kind %d", ErrCorrupt, kind)
		}
		var op Op
		op.Kind = opKind(kind)
		if op.ID.Client, err = r.uvarint(); err != nil {
			return nil, err
		}
		if op.ID.Clock, err = r.uvarint(); err != nil {
			return nil, err
		}
		if op.Origin.Client, err = r.uvarint(); err != nil {
			return nil, err
		}
		if op.Origin.Clock, err = r.uvarint(); err != nil {
			return nil, err
		}
		if op.ID.IsRoot() {
			return nil, fmt.Errorf("%w: op with root ID", ErrCorrupt)
		}
		if op.Kind == opInsert {
			n, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if op.Content, err = r.bytes(n); err != nil {
				return nil, err
			}
		}
		ops = append(ops, op)
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.remaining())
	}
	return ops, nil
}

// EncodeStateVector serializes a version vector for the sync-request frame.
func EncodeStateVector(vv map[uint64]uint64) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(vv)))
	// Order does not matter to the decoder; keep it deterministic anyway.
	clients := make([]uint64, 0, len(vv))
	for c := range vv {
		clients = append(clients, c)
	}
	for i := 0; i < len(clients); i++ {
		for j := i + 1; j < len(clients); j++ {
			if clients[j] < clients[i] {
				clients[i], clients[j] = clients[j], clients[i]
			}
		}
	}
	for _, c := range clients {
		buf = binary.AppendUvarint(buf, c)
		buf = binary.AppendUvarint(buf, vv[c])
	}
	return buf
}

// DecodeStateVector parses a serialized version vector.
func DecodeStateVector(data []byte) (map[uint64]uint64, error) {
	r := reader{buf: data}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: implausible entry count %d", ErrCorrupt, count)
	}
	vv := make(map[uint64]uint64, count)
	for i := uint64(0); i < count; i++ {
		client, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		clock, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		vv[client] = clock
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.remaining())
	}
	return vv, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated varint", ErrCorrupt)
	}
	r.off += n
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.buf)-r.off) {
		return nil, fmt.Errorf("%w: truncated content", ErrCorrupt)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *reader) empty() bool { return r.off == len(r.buf) }

func (r *reader) remaining() int { return len(r.buf) - r.off }
