// Package storage is the PostgreSQL data access layer: the append-only CRDT
// update log, the size-routed snapshot store, and the row repositories for
// documents, vaults, permissions and attachments.
package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
)

// SnapshotStorage names the physical form of a document snapshot.
type SnapshotStorage string

const (
	// StorageInline keeps the snapshot as a BYTEA row in crdt_snapshots.
	StorageInline SnapshotStorage = "pg"
	// StorageBlob keeps the snapshot as an object at docs/{id}.bin in MinIO.
	StorageBlob SnapshotStorage = "minio"
	// StorageNone means the document has never been snapshotted.
	StorageNone SnapshotStorage = ""
)

// Document is the metadata row; snapshot fields are owned by the core, the
// rest by the REST surface.
type Document struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	VaultID           *uuid.UUID
	ParentID          *uuid.UUID
	Title             string
	Icon              *string
	IsFolder          bool
	IsDeleted         bool
	LastSnapshotAt    *time.Time
	SnapshotStorage   SnapshotStorage
	SnapshotSizeBytes int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SnapshotInfo describes the current snapshot of a document.
type SnapshotInfo struct {
	LastSnapshotAt time.Time
	Storage        SnapshotStorage
	SizeBytes      int64
}

// Vault is a named container of documents with its own permission set.
type Vault struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Icon      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PermissionKind levels order as read < write < admin.
type PermissionKind string

const (
	PermissionRead  PermissionKind = "read"
	PermissionWrite PermissionKind = "write"
	PermissionAdmin PermissionKind = "admin"
)

// Level maps a permission kind onto its ordering (1 < 2 < 3). Unknown kinds
// map to 0, which denies everything.
func (k PermissionKind) Level() int {
	switch k {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	}
	return 0
}

// Attachment is an uploaded file bound to a document.
type Attachment struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Filename    string
	MinioPath   string
	ContentType string
	SizeBytes   int64
	UploadedBy  uuid.UUID
	CreatedAt   time.Time
}
