package collab

import (
	"bytes"
	"testing"
)

func TestUpdateFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	frame := encodeUpdateFrame(payload)

	kind, got, err := splitFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if kind != frameUpdate {
		t.Fatalf("kind = %#x, want %#x", kind, frameUpdate)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %v, want %v", got, payload)
	}
}

func TestAwarenessFrameCarriesSession(t *testing.T) {
	frame := encodeAwarenessFrame(12345, []byte("cursor"))

	kind, payload, err := splitFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if kind != frameAwareness {
		t.Fatalf("kind = %#x, want %#x", kind, frameAwareness)
	}
	session, body, err := decodeAwarenessBody(payload)
	if err != nil {
		t.Fatal(err)
	}
	if session != 12345 {
		t.Fatalf("session = %d, want 12345", session)
	}
	if string(body) != "cursor" {
		t.Fatalf("body = %q, want %q", body, "cursor")
	}
}

func TestAwarenessTombstoneHasEmptyBody(t *testing.T) {
	frame := encodeAwarenessFrame(7, nil)
	_, payload, err := splitFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	_, body, err := decodeAwarenessBody(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 0 {
		t.Fatalf("tombstone body has %d bytes, want 0", len(body))
	}
}

func TestSplitFrameRejectsEmpty(t *testing.T) {
	if _, _, err := splitFrame(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}
