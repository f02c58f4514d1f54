package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/blob"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/pkg/logger"
)

// SnapshotStore keeps exactly one snapshot per document, routed by size:
// small snapshots live inline in crdt_snapshots, large ones as an object at
// docs/{id}.bin. The metadata row (snapshot_storage, snapshot_size_bytes,
// last_snapshot_at) is updated in the same transaction as the inline form so
// readers always see a consistent pair.
type SnapshotStore struct {
	db        *pgxpool.Pool
	blobs     blob.Store
	bucket    string
	sizeLimit int64
	log       *zap.Logger
}

func NewSnapshotStore(db *pgxpool.Pool, blobs blob.Store, bucket string, sizeLimit int64) *SnapshotStore {
	return &SnapshotStore{
		db:        db,
		blobs:     blobs,
		bucket:    bucket,
		sizeLimit: sizeLimit,
		log:       logger.WithModule("snapshots"),
	}
}

// BlobKey is the object key for a document's blob-form snapshot.
func BlobKey(documentID uuid.UUID) string {
	return fmt.Sprintf("docs/%s.bin", documentID)
}

// snapshotForm picks the physical form: strictly larger than the limit goes
// to the blob store, anything at or under the limit stays inline.
func snapshotForm(size, limit int64) SnapshotStorage {
	if size > limit {
		return StorageBlob
	}
	return StorageInline
}

// Load returns the snapshot bytes, or nil when the document has none.
func (s *SnapshotStore) Load(ctx context.Context, documentID uuid.UUID) ([]byte, error) {
	var storage SnapshotStorage
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(snapshot_storage, '') FROM documents WHERE id = $1`,
		documentID,
	).Scan(&storage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot metadata for %s: %w", documentID, err)
	}

	switch storage {
	case StorageNone:
		return nil, nil
	case StorageInline:
		var data []byte
		err := s.db.QueryRow(ctx,
			`SELECT snapshot FROM crdt_snapshots WHERE document_id = $1`,
			documentID,
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			// Metadata says inline but the row is gone; treat as no snapshot
			// and let replay rebuild from the full log.
			s.log.Warn("inline snapshot row missing", zap.String("document_id", documentID.String()))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load inline snapshot for %s: %w", documentID, err)
		}
		return data, nil
	case StorageBlob:
		data, err := s.blobs.Get(ctx, s.bucket, BlobKey(documentID))
		if errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("snapshot blob missing", zap.String("document_id", documentID.String()))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load blob snapshot for %s: %w", documentID, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("document %s has unknown snapshot storage %q", documentID, storage)
}

const upsertInlineSnapshotSQL = `
	INSERT INTO crdt_snapshots (document_id, snapshot) VALUES ($1, $2)
	ON CONFLICT (document_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`

// Save writes the snapshot, choosing the physical form by size, and stamps
// the metadata row. For inline->blob transitions the inline row is deleted in
// the same transaction after the blob put succeeded; for blob->inline the
// object is deleted best-effort after the transaction committed, so a crash
// never leaves the metadata pointing at a missing form.
func (s *SnapshotStore) Save(ctx context.Context, documentID uuid.UUID, data []byte) (SnapshotInfo, error) {
	info := SnapshotInfo{SizeBytes: int64(len(data))}
	info.Storage = snapshotForm(info.SizeBytes, s.sizeLimit)

	if info.Storage == StorageBlob {
		if err := s.blobs.Put(ctx, s.bucket, BlobKey(documentID), data, "application/octet-stream"); err != nil {
			return SnapshotInfo{}, fmt.Errorf("put snapshot blob for %s: %w", documentID, err)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("begin snapshot save for %s: %w", documentID, err)
	}
	defer tx.Rollback(ctx)

	var previous SnapshotStorage
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(snapshot_storage, '') FROM documents WHERE id = $1 FOR UPDATE`,
		documentID,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return SnapshotInfo{}, ErrNotFound
	}
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("lock document %s for snapshot save: %w", documentID, err)
	}

	switch info.Storage {
	case StorageInline:
		if _, err := tx.Exec(ctx, upsertInlineSnapshotSQL,
			documentID, data,
		); err != nil {
			return SnapshotInfo{}, fmt.Errorf("upsert inline snapshot for %s: %w", documentID, err)
		}
	case StorageBlob:
		if _, err := tx.Exec(ctx,
			`DELETE FROM crdt_snapshots WHERE document_id = $1`,
			documentID,
		); err != nil {
			return SnapshotInfo{}, fmt.Errorf("retire inline snapshot for %s: %w", documentID, err)
		}
	}

	// last_snapshot_at is stamped by the database so it lives on the same
	// clock as crdt_updates.created_at; hydration reads since this value.
	if err := tx.QueryRow(ctx, `
		UPDATE documents
		SET snapshot_storage = $2, snapshot_size_bytes = $3, last_snapshot_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING last_snapshot_at`,
		documentID, info.Storage, info.SizeBytes,
	).Scan(&info.LastSnapshotAt); err != nil {
		return SnapshotInfo{}, fmt.Errorf("stamp snapshot metadata for %s: %w", documentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SnapshotInfo{}, fmt.Errorf("commit snapshot save for %s: %w", documentID, err)
	}

	if previous == StorageBlob && info.Storage == StorageInline {
		if err := s.blobs.Delete(ctx, s.bucket, BlobKey(documentID)); err != nil {
			s.log.Warn("couldn't delete retired snapshot blob",
				zap.String("document_id", documentID.String()), zap.Error(err))
		}
	}

	return info, nil
}

// Info returns the current snapshot metadata, or nil when the document has
// never been snapshotted.
func (s *SnapshotStore) Info(ctx context.Context, documentID uuid.UUID) (*SnapshotInfo, error) {
	var (
		lastAt  *time.Time
		storage SnapshotStorage
		size    int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT last_snapshot_at, COALESCE(snapshot_storage, ''), snapshot_size_bytes FROM documents WHERE id = $1`,
		documentID,
	).Scan(&lastAt, &storage, &size)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot info for %s: %w", documentID, err)
	}
	if lastAt == nil || storage == StorageNone {
		return nil, nil
	}
	return &SnapshotInfo{LastSnapshotAt: *lastAt, Storage: storage, SizeBytes: size}, nil
}

// Delete removes both physical forms and clears the metadata.
func (s *SnapshotStore) Delete(ctx context.Context, documentID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot delete for %s: %w", documentID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM crdt_snapshots WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete inline snapshot for %s: %w", documentID, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE documents
		SET snapshot_storage = NULL, snapshot_size_bytes = 0, last_snapshot_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		documentID,
	); err != nil {
		return fmt.Errorf("clear snapshot metadata for %s: %w", documentID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot delete for %s: %w", documentID, err)
	}

	if err := s.blobs.Delete(ctx, s.bucket, BlobKey(documentID)); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.log.Warn("couldn't delete snapshot blob",
			zap.String("document_id", documentID.String()), zap.Error(err))
	}
	return nil
}
