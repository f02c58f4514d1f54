package collab

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire protocol over binary WebSocket frames. The first byte tags the frame:
//
//	0x00 update     payload = one encoded CRDT update
//	0x01 awareness  payload = varint session number + opaque awareness bytes;
//	                an empty awareness body is the tombstone broadcast when a
//	                session leaves
//	0x02 sync       payload = encoded state vector; the server answers with an
//	                update frame carrying Diff(state, vector)
//
// Inbound awareness frames omit the session number (the server knows the
// sender); outbound frames always carry it.
const (
	frameUpdate    byte = 0x00
	frameAwareness byte = 0x01
	frameSync      byte = 0x02
)

// WebSocket close codes used by the session runtime.
const (
	CloseGoingAway       = 1001 // graceful shutdown
	CloseInternalError   = 1011
	CloseUnauthenticated = 4401
	CloseUnauthorized    = 4403
	CloseDocNotFound     = 4404
)

var errEmptyFrame = errors.New("collab: empty frame")

func encodeUpdateFrame(update []byte) []byte {
	out := make([]byte, 0, 1+len(update))
	out = append(out, frameUpdate)
	return append(out, update...)
}

func encodeAwarenessFrame(session uint64, body []byte) []byte {
	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(body))
	out = append(out, frameAwareness)
	out = binary.AppendUvarint(out, session)
	return append(out, body...)
}

func decodeAwarenessBody(payload []byte) (session uint64, body []byte, err error) {
	session, n := binary.Uvarint(payload)
	if n <= 0 {
		return 0, nil, fmt.Errorf("collab: malformed awareness frame")
	}
	return session, payload[n:], nil
}

func splitFrame(frame []byte) (kind byte, payload []byte, err error) {
	if len(frame) == 0 {
		return 0, nil, errEmptyFrame
	}
	return frame[0], frame[1:], nil
}
