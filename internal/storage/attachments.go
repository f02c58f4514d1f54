package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttachmentRepository owns the attachments table. The object bytes live in
// MinIO at the recorded minio_path; rows are created when an upload is
// initiated, before the client PUTs to the presigned URL.
type AttachmentRepository struct {
	db *pgxpool.Pool
}

func NewAttachmentRepository(db *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

const insertAttachmentSQL = `
	INSERT INTO attachments (id, document_id, filename, minio_path, content_type, size_bytes, uploaded_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at`

func (r *AttachmentRepository) Create(ctx context.Context, a *Attachment) error {
	err := r.db.QueryRow(ctx, insertAttachmentSQL,
		a.ID, a.DocumentID, a.Filename, a.MinioPath, a.ContentType, a.SizeBytes, a.UploadedBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	var a Attachment
	err := r.db.QueryRow(ctx, `
		SELECT id, document_id, filename, minio_path, content_type, size_bytes, uploaded_by, created_at
		FROM attachments WHERE id = $1`, id,
	).Scan(&a.ID, &a.DocumentID, &a.Filename, &a.MinioPath, &a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	return &a, nil
}

func (r *AttachmentRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Attachment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, filename, minio_path, content_type, size_bytes, uploaded_by, created_at
		FROM attachments WHERE document_id = $1 ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []*Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Filename, &a.MinioPath, &a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
