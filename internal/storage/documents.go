package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, owner_id, vault_id, parent_id, title, icon, is_folder, is_deleted,
	last_snapshot_at, COALESCE(snapshot_storage, ''), snapshot_size_bytes, created_at, updated_at`

// DocumentRepository owns the documents table. The core only touches the
// snapshot columns (through SnapshotStore); everything else is REST-driven.
type DocumentRepository struct {
	db *pgxpool.Pool
}

func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.VaultID, &d.ParentID, &d.Title, &d.Icon, &d.IsFolder, &d.IsDeleted,
		&d.LastSnapshotAt, &d.SnapshotStorage, &d.SnapshotSizeBytes, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &d, nil
}

const insertDocumentSQL = `
	INSERT INTO documents (id, owner_id, vault_id, parent_id, title, icon, is_folder)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at, updated_at`

// Create inserts the row under the caller-assigned ID; the id column carries
// no database default.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	err := r.db.QueryRow(ctx, insertDocumentSQL,
		doc.ID, doc.OwnerID, doc.VaultID, doc.ParentID, doc.Title, doc.Icon, doc.IsFolder,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID returns the document, soft-deleted rows included; callers that must
// not see deleted documents check IsDeleted themselves.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

// ListByOwner returns the owner's live documents, folders first.
func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner_id = $1 AND is_deleted = FALSE
		 ORDER BY is_folder DESC, title`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents for owner %s: %w", ownerID, err)
	}
	return collectDocuments(rows)
}

// ListByVault returns a vault's live documents.
func (r *DocumentRepository) ListByVault(ctx context.Context, vaultID uuid.UUID) ([]*Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE vault_id = $1 AND is_deleted = FALSE
		 ORDER BY is_folder DESC, title`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("list documents for vault %s: %w", vaultID, err)
	}
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]*Document, error) {
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateMeta writes the REST-mutable columns.
func (r *DocumentRepository) UpdateMeta(ctx context.Context, id uuid.UUID, title string, icon *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET title = $2, icon = $3, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE`,
		id, title, icon)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Move reparents the document inside the hierarchy.
func (r *DocumentRepository) Move(ctx context.Context, id uuid.UUID, vaultID, parentID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET vault_id = $2, parent_id = $3, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE`,
		id, vaultID, parentID)
	if err != nil {
		return fmt.Errorf("move document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the document deleted. Snapshots, log entries and
// attachments are intentionally kept; see the documented blob-leak decision.
func (r *DocumentRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
