package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/crdt"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/metrics"
)

// ErrShuttingDown is returned by Acquire once Shutdown has started.
var ErrShuttingDown = errors.New("collab: registry shutting down")

// Settings are the session-layer knobs, taken from the environment at startup.
type Settings struct {
	Debounce          time.Duration
	MaxDebounce       time.Duration
	IdleTTL           time.Duration
	SessionTimeout    time.Duration
	SnapshotThreshold int
	BackpressureLimit int
}

// entry tracks one document slot in the registry. A placeholder entry (ready
// still open) means hydration is in flight; concurrent acquirers wait on it so
// at most one replica per document ever exists in this process.
type entry struct {
	ready      chan struct{}
	replica    *Replica
	err        error
	evictTimer *time.Timer
}

// Registry owns the per-document replicas: hydration on first acquire, idle
// eviction after the last release, and the final store on the way out.
type Registry struct {
	logs     LogStore
	snaps    SnapshotSource
	settings Settings
	log      *zap.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	closed  bool
}

func NewRegistry(logs LogStore, snaps SnapshotSource, settings Settings, log *zap.Logger) *Registry {
	return &Registry{
		logs:     logs,
		snaps:    snaps,
		settings: settings,
		log:      log,
		entries:  make(map[uuid.UUID]*entry),
	}
}

// Acquire returns the live replica for the document, hydrating it from the
// snapshot and log if this is the first session. Callers must pair every
// successful Acquire with a Release.
func (g *Registry) Acquire(ctx context.Context, documentID uuid.UUID) (*Replica, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if e, ok := g.entries[documentID]; ok {
		if e.evictTimer != nil {
			e.evictTimer.Stop()
			e.evictTimer = nil
		}
		g.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.replica, nil
	}

	e := &entry{ready: make(chan struct{})}
	g.entries[documentID] = e
	g.mu.Unlock()

	replica, err := g.hydrate(ctx, documentID)
	if err != nil {
		e.err = err
		close(e.ready)
		g.mu.Lock()
		if g.entries[documentID] == e {
			delete(g.entries, documentID)
		}
		g.mu.Unlock()
		return nil, err
	}

	e.replica = replica
	close(e.ready)
	metrics.ActiveReplicas.Inc()
	return replica, nil
}

// hydrate rebuilds the document state: snapshot first, then every logged
// update newer than it, merged one by one. A corrupt stored update does not
// lose the document; the replica comes up quarantined with everything that
// decoded cleanly, and the log is left intact for repair.
func (g *Registry) hydrate(ctx context.Context, documentID uuid.UUID) (*Replica, error) {
	var since *time.Time
	info, err := g.snaps.Info(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("snapshot info: %w", err)
	}
	if info != nil {
		since = &info.LastSnapshotAt
	}

	snapshot, err := g.snaps.Load(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	updates, err := g.logs.ReadSince(ctx, documentID, since)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	state := crdt.NewState()
	quarantined := false
	if snapshot != nil {
		if err := state.Merge(snapshot); err != nil {
			g.log.Error("stored snapshot does not decode, quarantining document",
				zap.String("document_id", documentID.String()), zap.Error(err))
			quarantined = true
		}
	}
	if !quarantined {
		for i, update := range updates {
			if err := state.Merge(update); err != nil {
				g.log.Error("stored update does not decode, quarantining document",
					zap.String("document_id", documentID.String()),
					zap.Int("update_index", i), zap.Error(err))
				quarantined = true
				break
			}
		}
	}

	pendingOps, err := g.logs.CountSince(ctx, documentID, since)
	if err != nil {
		return nil, fmt.Errorf("count log: %w", err)
	}

	return newReplica(documentID, state, quarantined, pendingOps, g.logs, g.settings, g.log), nil
}

// Release is called when a session detaches. Once the replica is idle it is
// evicted after IdleTTL, with a final store for redundancy: everything already
// hit the log synchronously, so losing the race to a new Acquire is harmless.
func (g *Registry) Release(documentID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[documentID]
	if !ok || g.closed {
		return
	}
	select {
	case <-e.ready:
	default:
		return // hydration still in flight
	}
	if e.err != nil || e.replica.ClientCount() > 0 {
		return
	}
	if e.evictTimer != nil {
		e.evictTimer.Stop()
	}
	e.evictTimer = time.AfterFunc(g.settings.IdleTTL, func() {
		g.evict(documentID, e)
	})
}

func (g *Registry) evict(documentID uuid.UUID, expected *entry) {
	g.mu.Lock()
	e, ok := g.entries[documentID]
	if !ok || e != expected || g.closed {
		g.mu.Unlock()
		return
	}
	if e.replica.ClientCount() > 0 {
		// A session re-attached between timer fire and lock acquisition.
		g.mu.Unlock()
		return
	}
	delete(g.entries, documentID)
	g.mu.Unlock()

	metrics.ActiveReplicas.Dec()
	e.replica.stopTimers()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.replica.Store(ctx, false); err != nil && !errors.Is(err, ErrQuarantined) {
		g.log.Warn("final store on eviction failed",
			zap.String("document_id", documentID.String()), zap.Error(err))
	}
	g.log.Debug("replica evicted", zap.String("document_id", documentID.String()))
}

// Lookup returns the live replica without hydrating, or nil.
func (g *Registry) Lookup(documentID uuid.UUID) *Replica {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[documentID]
	if !ok {
		return nil
	}
	select {
	case <-e.ready:
	default:
		return nil
	}
	if e.err != nil {
		return nil
	}
	return e.replica
}

// CompactionRequests drains the set of documents whose replicas crossed the
// snapshot threshold since the last call.
func (g *Registry) CompactionRequests() []uuid.UUID {
	g.mu.Lock()
	replicas := make(map[uuid.UUID]*Replica, len(g.entries))
	for id, e := range g.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				replicas[id] = e.replica
			}
		default:
		}
	}
	g.mu.Unlock()

	var ids []uuid.UUID
	for id, r := range replicas {
		if r.TakeCompactionRequest() {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReplicaCount reports how many documents are live in this process.
func (g *Registry) ReplicaCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Shutdown stores every live replica and closes every session. New Acquire
// calls fail immediately once it begins.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	entries := make([]*entry, 0, len(g.entries))
	for _, e := range g.entries {
		entries = append(entries, e)
	}
	g.entries = make(map[uuid.UUID]*entry)
	g.mu.Unlock()

	grp, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.err != nil {
			continue
		}
		if e.evictTimer != nil {
			e.evictTimer.Stop()
		}
		r := e.replica
		grp.Go(func() error {
			r.stopTimers()
			if err := r.Store(ctx, false); err != nil && !errors.Is(err, ErrQuarantined) {
				g.log.Warn("final store on shutdown failed",
					zap.String("document_id", r.DocumentID().String()), zap.Error(err))
			}
			r.closeAll(CloseGoingAway, "server shutting down")
			metrics.ActiveReplicas.Dec()
			return nil
		})
	}
	return grp.Wait()
}
