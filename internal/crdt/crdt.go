// Package crdt implements the convergent document algebra: a replicated
// sequence whose items form a tree (each item anchored to the item it was
// inserted after). Sibling order depends only on operation IDs, so applying
// the same set of operations in any order yields the same document. Deletes
// are tombstones carrying their own operation ID, which lets version vectors
// cover both operation kinds and keeps diffs minimal.
//
// The package is pure: no I/O, no clocks, no goroutines. State is owned by a
// single replica and is not safe for concurrent use.
package crdt

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCorrupt is returned when an update cannot be decoded.
	ErrCorrupt = errors.New("crdt: corrupt update")
)

// ID identifies one operation: a client replica and its Lamport-style clock.
// The zero ID is reserved for the root sentinel.
type ID struct {
	Client uint64
	Clock  uint64
}

// IsRoot reports whether the ID names the root sentinel.
func (id ID) IsRoot() bool { return id.Client == 0 && id.Clock == 0 }

// precedes orders sibling operations: higher clock first (later or concurrent
// edits win the position closer to their origin), client as tie-break.
func (a ID) precedes(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	return a.Client > b.Client
}

type opKind byte

const (
	opInsert opKind = 0
	opDelete opKind = 1
)

// Op is one replicated operation.
type Op struct {
	Kind    opKind
	ID      ID
	Origin  ID     // insert: item this one follows; delete: target item
	Content []byte // insert only
}

type item struct {
	id       ID
	content  []byte
	deleted  bool
	children []*item // ordered by precedes
}

// State is one replica's materialized document.
type State struct {
	root    *item
	items   map[ID]*item
	deletes map[ID]ID // delete op ID -> target item ID
	vv      map[uint64]uint64
	pending []Op
}

// NewState returns the empty document.
func NewState() *State {
	root := &item{}
	return &State{
		root:    root,
		items:   map[ID]*item{{}: root},
		deletes: make(map[ID]ID),
		vv:      make(map[uint64]uint64),
	}
}

// Hydrate builds a state from an optional snapshot and the tail updates, in
// order. Application is commutative and idempotent, so replaying updates that
// are already folded into the snapshot is harmless.
func Hydrate(snapshot []byte, updates [][]byte) (*State, error) {
	s := NewState()
	if len(snapshot) > 0 {
		if err := s.Merge(snapshot); err != nil {
			return nil, fmt.Errorf("apply snapshot: %w", err)
		}
	}
	for i, u := range updates {
		if err := s.Merge(u); err != nil {
			return nil, fmt.Errorf("apply update %d: %w", i, err)
		}
	}
	return s, nil
}

// Merge applies an encoded update in place. Operations already known are
// skipped; operations whose dependencies have not arrived yet are buffered
// and retried as later updates fill the gaps.
func (s *State) Merge(update []byte) error {
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		s.integrate(op)
	}
	s.drainPending()
	return nil
}

func (s *State) integrate(op Op) {
	switch op.Kind {
	case opInsert:
		if _, ok := s.items[op.ID]; ok {
			return // idempotent
		}
		parent, ok := s.items[op.Origin]
		if !ok {
			s.pending = append(s.pending, op)
			return
		}
		it := &item{id: op.ID, content: op.Content}
		s.items[op.ID] = it
		insertSibling(parent, it)
		s.witness(op.ID)
	case opDelete:
		if _, ok := s.deletes[op.ID]; ok {
			return
		}
		target, ok := s.items[op.Origin]
		if !ok {
			s.pending = append(s.pending, op)
			return
		}
		target.deleted = true
		s.deletes[op.ID] = op.Origin
		s.witness(op.ID)
	}
}

// drainPending retries buffered operations until no more become ready.
func (s *State) drainPending() {
	for len(s.pending) > 0 {
		retry := s.pending
		s.pending = nil
		progressed := false
		for _, op := range retry {
			before := len(s.pending)
			s.integrate(op)
			if len(s.pending) == before {
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func insertSibling(parent *item, it *item) {
	idx := sort.Search(len(parent.children), func(i int) bool {
		return it.id.precedes(parent.children[i].id)
	})
	parent.children = append(parent.children, nil)
	copy(parent.children[idx+1:], parent.children[idx:])
	parent.children[idx] = it
}

func (s *State) witness(id ID) {
	if id.Clock > s.vv[id.Client] {
		s.vv[id.Client] = id.Clock
	}
}

// Bytes returns the visible document content in order.
func (s *State) Bytes() []byte {
	var out []byte
	var walk func(*item)
	walk = func(it *item) {
		if it != s.root && !it.deleted {
			out = append(out, it.content...)
		}
		for _, c := range it.children {
			walk(c)
		}
	}
	walk(s.root)
	return out
}

// Len reports the number of visible items.
func (s *State) Len() int {
	n := 0
	for id, it := range s.items {
		if !id.IsRoot() && !it.deleted {
			n++
		}
	}
	return n
}

// VersionVector returns a copy of the replica's version vector.
func (s *State) VersionVector() map[uint64]uint64 {
	vv := make(map[uint64]uint64, len(s.vv))
	for c, k := range s.vv {
		vv[c] = k
	}
	return vv
}

// Encode produces a full-state update: applied to an empty state it yields an
// observationally equivalent document, tombstones included.
func (s *State) Encode() []byte {
	return encodeUpdate(s.allOps(nil))
}

// Diff produces the minimal update bringing a peer at the given version
// vector up to this state.
func (s *State) Diff(since map[uint64]uint64) []byte {
	return encodeUpdate(s.allOps(since))
}

// allOps collects operations not covered by since, inserts before the deletes
// that reference them, each client's operations in clock order.
func (s *State) allOps(since map[uint64]uint64) []Op {
	known := func(id ID) bool {
		if since == nil {
			return false
		}
		return id.Clock <= since[id.Client]
	}

	var inserts, deletes []Op
	var walk func(*item)
	walk = func(it *item) {
		if it != s.root && !known(it.id) {
			inserts = append(inserts, Op{Kind: opInsert, ID: it.id, Origin: s.originOf(it), Content: it.content})
		}
		for _, c := range it.children {
			walk(c)
		}
	}
	walk(s.root)

	for delID, target := range s.deletes {
		if !known(delID) {
			deletes = append(deletes, Op{Kind: opDelete, ID: delID, Origin: target})
		}
	}

	sortOps(inserts)
	sortOps(deletes)
	return append(inserts, deletes...)
}

// originOf recovers the origin of an item from the tree shape.
func (s *State) originOf(it *item) ID {
	// Parent pointers are not stored; walk the tree once and memoize when the
	// state grows. Sizes here are small enough that a scan per encode is fine.
	var find func(parent *item) (ID, bool)
	find = func(parent *item) (ID, bool) {
		for _, c := range parent.children {
			if c == it {
				return parent.id, true
			}
			if id, ok := find(c); ok {
				return id, true
			}
		}
		return ID{}, false
	}
	id, _ := find(s.root)
	return id
}

func sortOps(ops []Op) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].ID.Client != ops[j].ID.Client {
			return ops[i].ID.Client < ops[j].ID.Client
		}
		return ops[i].ID.Clock < ops[j].ID.Clock
	})
}

// PendingOps reports buffered operations still waiting for dependencies;
// non-zero after full hydration means the stored log is incomplete.
func (s *State) PendingOps() int { return len(s.pending) }

// --- local editing -----------------------------------------------------
//
// The server itself never edits; these exist for clients embedded in tests
// and tooling. pos is an index into the visible items, 0 = front.

// Insert creates, integrates and returns the encoded update for one element
// inserted at pos by the given client.
func (s *State) Insert(client uint64, pos int, content []byte) []byte {
	op := Op{
		Kind:    opInsert,
		ID:      ID{Client: client, Clock: s.vv[client] + 1},
		Origin:  s.visibleIDAt(pos - 1),
		Content: content,
	}
	s.integrate(op)
	s.drainPending()
	return encodeUpdate([]Op{op})
}

// Delete tombstones the visible element at pos on behalf of client.
func (s *State) Delete(client uint64, pos int) []byte {
	target := s.visibleIDAt(pos)
	if target.IsRoot() {
		return nil
	}
	op := Op{
		Kind:   opDelete,
		ID:     ID{Client: client, Clock: s.vv[client] + 1},
		Origin: target,
	}
	s.integrate(op)
	return encodeUpdate([]Op{op})
}

// visibleIDAt returns the ID of the pos-th visible item, or the root for
// pos < 0 (insert at front).
func (s *State) visibleIDAt(pos int) ID {
	if pos < 0 {
		return ID{}
	}
	i := 0
	var found ID
	var walk func(*item) bool
	walk = func(it *item) bool {
		if it != s.root && !it.deleted {
			if i == pos {
				found = it.id
				return true
			}
			i++
		}
		for _, c := range it.children {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if walk(s.root) {
		return found
	}
	return ID{}
}
