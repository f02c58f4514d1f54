// Package compactor folds a document's pending update log into a fresh
// snapshot and truncates the log behind it. Compaction is an optimization,
// never a correctness requirement: a failed pass leaves the log intact and is
// simply retried on a later tick.
package compactor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/collab"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/crdt"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/metrics"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

const (
	// perPassLimit bounds how many documents one tick may compact.
	perPassLimit = 10

	leaseTTL    = 2 * time.Minute
	passTimeout = time.Minute
)

// LogSource is the update-log surface the worker consumes. Now is the store's
// own clock; the truncate cutoff must be measured against the timestamps the
// store assigns to appended updates, never the worker's wall clock.
type LogSource interface {
	Now(ctx context.Context) (time.Time, error)
	ReadSince(ctx context.Context, documentID uuid.UUID, since *time.Time) ([][]byte, error)
	TruncateBefore(ctx context.Context, documentID uuid.UUID, t time.Time) (int64, error)
	Candidates(ctx context.Context, threshold, limit int) ([]storage.Candidate, error)
}

// SnapshotSink reads and writes document snapshots.
type SnapshotSink interface {
	Load(ctx context.Context, documentID uuid.UUID) ([]byte, error)
	Save(ctx context.Context, documentID uuid.UUID, data []byte) (storage.SnapshotInfo, error)
}

// ReplicaHints lets the worker pick up threshold crossings observed by live
// replicas without waiting for the next candidate query.
type ReplicaHints interface {
	CompactionRequests() []uuid.UUID
	Lookup(documentID uuid.UUID) *collab.Replica
}

type Config struct {
	Interval  time.Duration
	Threshold int
}

// Worker runs the periodic compaction loop. The Redis lease keeps two service
// instances from compacting the same document at once; a lost lease race just
// skips the document this pass.
type Worker struct {
	logs     LogSource
	snaps    SnapshotSink
	hints    ReplicaHints
	locks    *redis.Client
	cfg      Config
	log      *zap.Logger
	instance uuid.UUID

	running chan struct{}
}

func NewWorker(logs LogSource, snaps SnapshotSink, hints ReplicaHints, locks *redis.Client, cfg Config, log *zap.Logger) *Worker {
	return &Worker{
		logs:     logs,
		snaps:    snaps,
		hints:    hints,
		locks:    locks,
		cfg:      cfg,
		log:      log,
		instance: uuid.New(),
	}
}

// Run ticks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.running = make(chan struct{})
	defer close(w.running)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("compaction worker started",
		zap.Duration("interval", w.cfg.Interval), zap.Int("threshold", w.cfg.Threshold))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("compaction worker stopped")
			return ctx.Err()
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, passTimeout)
			w.pass(passCtx)
			cancel()
		}
	}
}

// Running reports whether the loop is live (health endpoint).
func (w *Worker) Running() bool {
	if w.running == nil {
		return false
	}
	select {
	case <-w.running:
		return false
	default:
		return true
	}
}

// pass elects this tick's candidates and compacts them concurrently. Hints
// from live replicas are merged with the database query so a busy document is
// picked up even when it was just under the threshold at query time.
func (w *Worker) pass(ctx context.Context) {
	candidates, err := w.logs.Candidates(ctx, w.cfg.Threshold, perPassLimit)
	if err != nil {
		w.log.Error("candidate query failed", zap.Error(err))
		metrics.CompactionRuns.WithLabelValues("error").Inc()
		return
	}
	metrics.PendingSnapshots.Set(float64(len(candidates)))

	elected := make(map[uuid.UUID]struct{}, len(candidates))
	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		elected[c.DocumentID] = struct{}{}
		ids = append(ids, c.DocumentID)
	}
	if w.hints != nil {
		for _, id := range w.hints.CompactionRequests() {
			if _, ok := elected[id]; !ok && len(ids) < perPassLimit {
				elected[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	grp, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		grp.Go(func() error {
			if err := w.compactOne(ctx, id); err != nil {
				w.log.Error("compaction failed",
					zap.String("document_id", id.String()), zap.Error(err))
				metrics.CompactionRuns.WithLabelValues("error").Inc()
			} else {
				metrics.CompactionRuns.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}
	_ = grp.Wait()
}

// compactOne rebuilds the full state from snapshot + log and atomically swaps
// in the new snapshot. The truncate cutoff is read from the store clock before
// anything else, so updates appended during the pass survive the truncate.
func (w *Worker) compactOne(ctx context.Context, documentID uuid.UUID) error {
	unlock, ok, err := w.acquireLease(ctx, documentID)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}
	if !ok {
		w.log.Debug("document leased elsewhere, skipping",
			zap.String("document_id", documentID.String()))
		return nil
	}
	defer unlock()

	began := time.Now()
	start, err := w.logs.Now(ctx)
	if err != nil {
		return fmt.Errorf("read store clock: %w", err)
	}

	snapshot, err := w.snaps.Load(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	// All logged updates, not just post-snapshot ones: merging is idempotent
	// and this tolerates a snapshot timestamp drifting from log timestamps.
	updates, err := w.logs.ReadSince(ctx, documentID, nil)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	if snapshot == nil && len(updates) == 0 {
		return nil
	}

	state, err := crdt.Hydrate(snapshot, updates)
	if err != nil {
		// Corrupt stored data: leave the log alone so nothing is lost.
		return fmt.Errorf("hydrate: %w", err)
	}

	if _, err := w.snaps.Save(ctx, documentID, state.Encode()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	truncated, err := w.logs.TruncateBefore(ctx, documentID, start)
	if err != nil {
		// Snapshot landed but the log kept its rows; harmless, next pass
		// truncates them.
		return fmt.Errorf("truncate log: %w", err)
	}

	if w.hints != nil {
		if r := w.hints.Lookup(documentID); r != nil {
			r.ResetPendingOps()
		}
	}

	w.log.Info("document compacted",
		zap.String("document_id", documentID.String()),
		zap.Int64("updates_folded", truncated),
		zap.Duration("took", time.Since(began)))
	return nil
}

// acquireLease takes the per-document compaction lock. SET NX plus a readback
// verify, released only when the stored owner still matches, so an expired
// lease never deletes a successor's lock.
func (w *Worker) acquireLease(ctx context.Context, documentID uuid.UUID) (func(), bool, error) {
	if w.locks == nil {
		return func() {}, true, nil
	}
	key := "lock:compact:" + documentID.String()
	owner := w.instance.String()

	ok, err := w.locks.SetNX(ctx, key, owner, leaseTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if got, err := w.locks.Get(ctx, key).Result(); err != nil || got != owner {
		return nil, false, err
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if got, err := w.locks.Get(ctx, key).Result(); err == nil && got == owner {
			if err := w.locks.Del(ctx, key).Err(); err != nil {
				w.log.Warn("lease release failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return unlock, true, nil
}
