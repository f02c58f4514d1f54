package crdt

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func typeOut(t *testing.T, s *State, client uint64, text string) [][]byte {
	t.Helper()
	updates := make([][]byte, 0, len(text))
	for i, r := range []byte(text) {
		updates = append(updates, s.Insert(client, i, []byte{r}))
	}
	return updates
}

func TestInsertAndRead(t *testing.T) {
	s := NewState()
	typeOut(t, s, 1, "hello")
	if got := string(s.Bytes()); got != "hello" {
		t.Fatalf("Bytes() = %q, want %q", got, "hello")
	}
	if s.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", s.Len())
	}
}

func TestInsertAtFrontAndMiddle(t *testing.T) {
	s := NewState()
	s.Insert(1, 0, []byte("b"))
	s.Insert(1, 0, []byte("a"))
	s.Insert(1, 2, []byte("c"))
	if got := string(s.Bytes()); got != "abc" {
		t.Fatalf("Bytes() = %q, want %q", got, "abc")
	}
}

func TestDeleteTombstones(t *testing.T) {
	s := NewState()
	typeOut(t, s, 1, "abc")
	s.Delete(1, 1)
	if got := string(s.Bytes()); got != "ac" {
		t.Fatalf("after delete: Bytes() = %q, want %q", got, "ac")
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	// Deleting again at the same position removes the next survivor.
	s.Delete(1, 1)
	if got := string(s.Bytes()); got != "a" {
		t.Fatalf("after second delete: Bytes() = %q, want %q", got, "a")
	}
}

func TestDeleteOutOfRangeIsNoop(t *testing.T) {
	s := NewState()
	typeOut(t, s, 1, "x")
	if update := s.Delete(1, 5); update != nil {
		t.Fatalf("expected nil update for out-of-range delete")
	}
	if got := string(s.Bytes()); got != "x" {
		t.Fatalf("Bytes() = %q, want %q", got, "x")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	s := NewState()
	updates := typeOut(t, s, 1, "dup")

	other := NewState()
	for _, u := range updates {
		if err := other.Merge(u); err != nil {
			t.Fatal(err)
		}
	}
	for _, u := range updates {
		if err := other.Merge(u); err != nil {
			t.Fatal(err)
		}
	}
	if got := string(other.Bytes()); got != "dup" {
		t.Fatalf("Bytes() = %q, want %q", got, "dup")
	}
}

func TestConvergenceUnderPermutation(t *testing.T) {
	editor := NewState()
	var updates [][]byte
	updates = append(updates, typeOut(t, editor, 1, "hello world")...)
	updates = append(updates, editor.Delete(1, 5))
	updates = append(updates, editor.Insert(2, 5, []byte("_")))
	want := string(editor.Bytes())

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		shuffled := make([][]byte, len(updates))
		copy(shuffled, updates)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		s := NewState()
		for _, u := range shuffled {
			if err := s.Merge(u); err != nil {
				t.Fatal(err)
			}
		}
		if got := string(s.Bytes()); got != want {
			t.Fatalf("trial %d: Bytes() = %q, want %q", trial, got, want)
		}
		if s.PendingOps() != 0 {
			t.Fatalf("trial %d: %d ops still pending", trial, s.PendingOps())
		}
	}
}

func TestConcurrentEditsConverge(t *testing.T) {
	base := NewState()
	seed := typeOut(t, base, 1, "ab")

	alice, err := Hydrate(nil, seed)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := Hydrate(nil, seed)
	if err != nil {
		t.Fatal(err)
	}

	// Both insert at the same position without seeing each other.
	fromAlice := alice.Insert(2, 1, []byte("X"))
	fromBob := bob.Insert(3, 1, []byte("Y"))

	if err := alice.Merge(fromBob); err != nil {
		t.Fatal(err)
	}
	if err := bob.Merge(fromAlice); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(alice.Bytes(), bob.Bytes()) {
		t.Fatalf("replicas diverged: %q vs %q", alice.Bytes(), bob.Bytes())
	}
	if alice.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", alice.Len())
	}
}

func TestPendingBufferFillsGaps(t *testing.T) {
	editor := NewState()
	first := editor.Insert(1, 0, []byte("a"))
	second := editor.Insert(1, 1, []byte("b"))

	s := NewState()
	// The second insert depends on the first; out of order it must wait.
	if err := s.Merge(second); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 || s.PendingOps() != 1 {
		t.Fatalf("Len=%d pending=%d, want 0/1", s.Len(), s.PendingOps())
	}
	if err := s.Merge(first); err != nil {
		t.Fatal(err)
	}
	if got := string(s.Bytes()); got != "ab" {
		t.Fatalf("Bytes() = %q, want %q", got, "ab")
	}
	if s.PendingOps() != 0 {
		t.Fatalf("pending = %d, want 0", s.PendingOps())
	}
}

func TestEncodeEquivalence(t *testing.T) {
	s := NewState()
	typeOut(t, s, 1, "snapshot me")
	s.Delete(1, 0)

	restored := NewState()
	if err := restored.Merge(s.Encode()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(restored.Bytes(), s.Bytes()) {
		t.Fatalf("restored %q, want %q", restored.Bytes(), s.Bytes())
	}

	// Tombstones survive the encoding, so a delete that raced the snapshot
	// still lands on its target.
	vv := restored.VersionVector()
	for client, clock := range s.VersionVector() {
		if vv[client] != clock {
			t.Fatalf("version vector lost %d:%d", client, clock)
		}
	}
}

func TestHydrateSnapshotPlusTail(t *testing.T) {
	editor := NewState()
	typeOut(t, editor, 1, "abc")
	snapshot := editor.Encode()
	tail := [][]byte{editor.Insert(1, 3, []byte("d"))}

	s, err := Hydrate(snapshot, tail)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(s.Bytes()); got != "abcd" {
		t.Fatalf("Bytes() = %q, want %q", got, "abcd")
	}
}

func TestHydrateCorruptUpdate(t *testing.T) {
	if _, err := Hydrate(nil, [][]byte{{0xff, 0xff, 0xff}}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestDiffBringsPeerUpToDate(t *testing.T) {
	s := NewState()
	typeOut(t, s, 1, "abc")

	peer := NewState()
	if err := peer.Merge(s.Encode()); err != nil {
		t.Fatal(err)
	}

	// New edits after the peer synced.
	s.Insert(1, 3, []byte("d"))
	s.Delete(2, 0)

	diff := s.Diff(peer.VersionVector())
	if err := peer.Merge(diff); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(peer.Bytes(), s.Bytes()) {
		t.Fatalf("peer %q, want %q", peer.Bytes(), s.Bytes())
	}

	// A peer that is already current gets an empty op set.
	empty := s.Diff(s.VersionVector())
	ops, err := decodeUpdate(empty)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Fatalf("diff for current peer has %d ops, want 0", len(ops))
	}
}
