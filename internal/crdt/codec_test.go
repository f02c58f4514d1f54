package crdt

import (
	"errors"
	"testing"
)

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"truncated varint", []byte{0xff}},
		{"implausible count", []byte{0xff, 0xff, 0x07}},
		{"unknown op kind", append([]byte{0x01, 0x09}, 1, 1, 0, 0)},
		{"root id op", []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"truncated content", []byte{0x01, 0x00, 0x01, 0x01, 0x00, 0x00, 0x10, 'x'}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeUpdate(tc.data); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	s := NewState()
	update := s.Insert(1, 0, []byte("a"))
	if _, err := decodeUpdate(append(update, 0x00)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestEmptyUpdateDecodes(t *testing.T) {
	ops, err := decodeUpdate(encodeUpdate(nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Fatalf("got %d ops, want 0", len(ops))
	}
}

func TestStateVectorRoundTrip(t *testing.T) {
	vv := map[uint64]uint64{1: 10, 7: 3, 42: 900}
	decoded, err := DecodeStateVector(EncodeStateVector(vv))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != len(vv) {
		t.Fatalf("got %d entries, want %d", len(decoded), len(vv))
	}
	for client, clock := range vv {
		if decoded[client] != clock {
			t.Fatalf("client %d: got %d, want %d", client, decoded[client], clock)
		}
	}
}

func TestStateVectorRejectsGarbage(t *testing.T) {
	if _, err := DecodeStateVector([]byte{0xff}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if _, err := DecodeStateVector([]byte{0x02, 0x01, 0x01}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("truncated entries: err = %v, want ErrCorrupt", err)
	}
}
