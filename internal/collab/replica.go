package collab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/crdt"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/metrics"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

var (
	// ErrQuarantined marks a replica serving stale reads after a fatal
	// decode failure on stored data; writes are refused, the log is kept.
	ErrQuarantined = errors.New("collab: document quarantined, read-only")
)

// LogStore is the slice of the update log the session layer needs.
type LogStore interface {
	Append(ctx context.Context, documentID uuid.UUID, update []byte) error
	CountSince(ctx context.Context, documentID uuid.UUID, since *time.Time) (int, error)
	ReadSince(ctx context.Context, documentID uuid.UUID, since *time.Time) ([][]byte, error)
}

// SnapshotSource is the read side of the snapshot store used for hydration.
type SnapshotSource interface {
	Load(ctx context.Context, documentID uuid.UUID) ([]byte, error)
	Info(ctx context.Context, documentID uuid.UUID) (*storage.SnapshotInfo, error)
}

// Replica is the in-memory instance of one document serving its sessions.
// The main mutex guards state, clients and awareness; it is held across a
// single merge+append pair so updates linearize per document. storeMu
// serializes full-state stores so at most one runs at a time.
type Replica struct {
	documentID uuid.UUID
	logs       LogStore
	settings   Settings
	log        *zap.Logger

	mu          sync.Mutex
	state       *crdt.State
	clients     map[uint64]*client
	awareness   map[uint64][]byte
	dirty       bool
	quarantined bool
	pendingOps  int

	debounceTimer *time.Timer
	firstDirtyAt  time.Time

	storeMu       sync.Mutex
	compactWanted atomic.Bool
}

func newReplica(documentID uuid.UUID, state *crdt.State, quarantined bool, pendingOps int, logs LogStore, settings Settings, log *zap.Logger) *Replica {
	return &Replica{
		documentID:  documentID,
		logs:        logs,
		settings:    settings,
		log:         log.With(zap.String("document_id", documentID.String())),
		state:       state,
		clients:     make(map[uint64]*client),
		awareness:   make(map[uint64][]byte),
		quarantined: quarantined,
		pendingOps:  pendingOps,
	}
}

func (r *Replica) DocumentID() uuid.UUID { return r.documentID }

// Quarantined reports whether the replica is read-only.
func (r *Replica) Quarantined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quarantined
}

func (r *Replica) attach(c *client) {
	r.mu.Lock()
	r.clients[c.session] = c
	r.mu.Unlock()
	metrics.ConnectedClients.Inc()
}

// detach removes the session and returns how many remain. Peers receive an
// awareness tombstone so cursors disappear promptly.
func (r *Replica) detach(c *client) int {
	r.mu.Lock()
	delete(r.clients, c.session)
	delete(r.awareness, c.session)
	remaining := len(r.clients)
	r.mu.Unlock()
	metrics.ConnectedClients.Dec()

	r.broadcast(c, encodeAwarenessFrame(c.session, nil))
	return remaining
}

// ClientCount reports attached sessions.
func (r *Replica) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ApplyUpdate merges one client update, appends it to the log and fans it out
// to the other sessions. The broadcast happens strictly after the append
// returned, so a delivered update is always durable.
func (r *Replica) ApplyUpdate(ctx context.Context, from *client, update []byte) error {
	r.mu.Lock()
	if r.quarantined {
		r.mu.Unlock()
		return ErrQuarantined
	}
	if err := r.state.Merge(update); err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.logs.Append(ctx, r.documentID, update); err != nil {
		// The merge already happened; keep the replica dirty so a later
		// store re-persists the state, and fail the offending session.
		r.dirty = true
		r.scheduleStoreLocked()
		r.mu.Unlock()
		return err
	}
	r.dirty = true
	r.pendingOps++
	if r.pendingOps >= r.settings.SnapshotThreshold {
		r.compactWanted.Store(true)
	}
	r.scheduleStoreLocked()
	r.mu.Unlock()

	metrics.UpdatesAppended.Inc()
	metrics.UpdateBytes.Add(float64(len(update)))

	r.broadcast(from, encodeUpdateFrame(update))
	return nil
}

// SetAwareness records a client's ephemeral state and fans it out.
func (r *Replica) SetAwareness(from *client, body []byte) {
	r.mu.Lock()
	if len(body) == 0 {
		delete(r.awareness, from.session)
	} else {
		stored := make([]byte, len(body))
		copy(stored, body)
		r.awareness[from.session] = stored
	}
	r.mu.Unlock()

	r.broadcast(from, encodeAwarenessFrame(from.session, body))
}

// HandleSync answers a state-vector frame with the diff the peer is missing.
func (r *Replica) HandleSync(c *client, payload []byte) error {
	since, err := crdt.DecodeStateVector(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	diff := r.state.Diff(since)
	r.mu.Unlock()

	if !c.trySend(encodeUpdateFrame(diff)) {
		c.dropForBackpressure()
	}
	return nil
}

// initialFrames is everything a freshly admitted session receives: the full
// document state followed by the awareness of everyone already present.
func (r *Replica) initialFrames(forSession uint64) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := [][]byte{encodeUpdateFrame(r.state.Encode())}
	for session, body := range r.awareness {
		if session == forSession {
			continue
		}
		frames = append(frames, encodeAwarenessFrame(session, body))
	}
	return frames
}

func (r *Replica) broadcast(from *client, frame []byte) {
	r.mu.Lock()
	peers := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		if from != nil && c.session == from.session {
			continue
		}
		peers = append(peers, c)
	}
	r.mu.Unlock()

	for _, c := range peers {
		if !c.trySend(frame) {
			c.dropForBackpressure()
		}
	}
}

// closeAll sends a close frame to every session (graceful shutdown path).
func (r *Replica) closeAll(code int, reason string) {
	r.mu.Lock()
	peers := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		peers = append(peers, c)
	}
	r.mu.Unlock()

	for _, c := range peers {
		c.close(code, reason)
	}
}

// scheduleStoreLocked arms the debounced store: quiet periods coalesce into a
// single full-state append, and a continuously busy replica still stores once
// the hard ceiling elapses. Caller holds r.mu.
func (r *Replica) scheduleStoreLocked() {
	now := time.Now()
	if r.debounceTimer == nil {
		r.firstDirtyAt = now
		r.debounceTimer = time.AfterFunc(r.settings.Debounce, r.debouncedStore)
		return
	}
	if now.Sub(r.firstDirtyAt)+r.settings.Debounce >= r.settings.MaxDebounce {
		// Ceiling reached; let the armed timer fire without extending.
		return
	}
	r.debounceTimer.Reset(r.settings.Debounce)
}

func (r *Replica) debouncedStore() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.Store(ctx, false); err != nil {
		r.log.Warn("debounced store failed", zap.Error(err))
	}
}

const storeTimeout = 15 * time.Second

// Store coalesces everything merged so far into one full-state append.
// Concurrent merges during the append are safe: they were each appended
// individually already, and the next store will fold them in.
func (r *Replica) Store(ctx context.Context, force bool) error {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	if r.quarantined {
		r.mu.Unlock()
		return ErrQuarantined
	}
	if !r.dirty && !force {
		r.mu.Unlock()
		return nil
	}
	encoded := r.state.Encode()
	r.dirty = false
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
	r.mu.Unlock()

	if err := r.logs.Append(ctx, r.documentID, encoded); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// stopTimers releases the debounce timer on eviction.
func (r *Replica) stopTimers() {
	r.mu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
	r.mu.Unlock()
}

// TakeCompactionRequest consumes the over-threshold flag set on append.
func (r *Replica) TakeCompactionRequest() bool {
	return r.compactWanted.Swap(false)
}

// ResetPendingOps is called after a successful compaction of this document.
func (r *Replica) ResetPendingOps() {
	r.mu.Lock()
	r.pendingOps = 0
	r.mu.Unlock()
}
