package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LogStore is the per-document append-only update log backed by
// crdt_updates. Ordering is by created_at with the serial id as tie-break,
// both assigned by the database on insert.
type LogStore struct {
	db *pgxpool.Pool
}

func NewLogStore(db *pgxpool.Pool) *LogStore {
	return &LogStore{db: db}
}

// Append stores one binary update. It is synchronous; the session runtime
// treats a failure as fatal for the offending edit.
func (s *LogStore) Append(ctx context.Context, documentID uuid.UUID, update []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO crdt_updates (document_id, update_data) VALUES ($1, $2)`,
		documentID, update,
	)
	if err != nil {
		return fmt.Errorf("append update for document %s: %w", documentID, err)
	}
	return nil
}

// Now reads the database clock. Compaction cutoffs must come from the same
// clock that stamps crdt_updates.created_at, or skew between the application
// and the database could truncate an update that never made the snapshot.
func (s *LogStore) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read database clock: %w", err)
	}
	return now, nil
}

// CountSince returns the number of updates recorded at or after since.
// A nil since counts the whole log.
func (s *LogStore) CountSince(ctx context.Context, documentID uuid.UUID, since *time.Time) (int, error) {
	var n int
	var err error
	if since == nil {
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM crdt_updates WHERE document_id = $1`,
			documentID,
		).Scan(&n)
	} else {
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM crdt_updates WHERE document_id = $1 AND created_at >= $2`,
			documentID, *since,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count updates for document %s: %w", documentID, err)
	}
	return n, nil
}

// ReadSince returns updates recorded at or after since, in log order.
// A nil since reads the whole log.
func (s *LogStore) ReadSince(ctx context.Context, documentID uuid.UUID, since *time.Time) ([][]byte, error) {
	query := `SELECT update_data FROM crdt_updates WHERE document_id = $1 ORDER BY created_at, id`
	args := []any{documentID}
	if since != nil {
		query = `SELECT update_data FROM crdt_updates WHERE document_id = $1 AND created_at >= $2 ORDER BY created_at, id`
		args = append(args, *since)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read updates for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan update for document %s: %w", documentID, err)
		}
		updates = append(updates, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read updates for document %s: %w", documentID, err)
	}
	return updates, nil
}

// TruncateBefore deletes updates recorded strictly before t and reports how
// many rows went away. Safe only after a snapshot at t has been committed.
func (s *LogStore) TruncateBefore(ctx context.Context, documentID uuid.UUID, t time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM crdt_updates WHERE document_id = $1 AND created_at < $2`,
		documentID, t,
	)
	if err != nil {
		return 0, fmt.Errorf("truncate updates for document %s: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll removes the entire log for a document.
func (s *LogStore) DeleteAll(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM crdt_updates WHERE document_id = $1`,
		documentID,
	); err != nil {
		return fmt.Errorf("delete updates for document %s: %w", documentID, err)
	}
	return nil
}

// Candidate is a document whose tail log has outgrown the snapshot threshold.
type Candidate struct {
	DocumentID uuid.UUID
	PendingOps int
	LastSnapAt *time.Time
}

// Candidates elects documents for compaction: pending update count since the
// last snapshot is at least threshold, heaviest first, bounded by limit.
func (s *LogStore) Candidates(ctx context.Context, threshold, limit int) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.document_id, COUNT(*) AS pending, d.last_snapshot_at
		FROM crdt_updates u
		JOIN documents d ON d.id = u.document_id
		WHERE d.is_deleted = FALSE
		  AND (d.last_snapshot_at IS NULL OR u.created_at >= d.last_snapshot_at)
		GROUP BY u.document_id, d.last_snapshot_at
		HAVING COUNT(*) >= $1
		ORDER BY pending DESC
		LIMIT $2`,
		threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("elect compaction candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.DocumentID, &c.PendingOps, &c.LastSnapAt); err != nil {
			return nil, fmt.Errorf("scan compaction candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
