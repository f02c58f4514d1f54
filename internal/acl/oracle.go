// Package acl answers (user, document, mode) -> allow/deny. Decisions are not
// cached; every session admission performs one fresh check.
package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

// ErrNotFound is surfaced when the document does not exist or is soft-deleted
// so the session runtime can close with 4404 rather than 4403.
var ErrNotFound = errors.New("acl: document not found")

// DocumentSource is the slice of the document repository the oracle needs.
type DocumentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
}

// PermissionSource yields stored direct and vault permissions.
type PermissionSource interface {
	DocumentPermission(ctx context.Context, documentID, userID uuid.UUID) (storage.PermissionKind, error)
	VaultPermission(ctx context.Context, vaultID, userID uuid.UUID) (storage.PermissionKind, error)
}

// Oracle resolves effective permissions: the owner holds implicit admin;
// otherwise the effective level is the max of the direct document permission
// and the inherited vault permission.
type Oracle struct {
	docs  DocumentSource
	perms PermissionSource
}

func NewOracle(docs DocumentSource, perms PermissionSource) *Oracle {
	return &Oracle{docs: docs, perms: perms}
}

func (o *Oracle) CanRead(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	return o.allows(ctx, userID, documentID, storage.PermissionRead)
}

func (o *Oracle) CanWrite(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	return o.allows(ctx, userID, documentID, storage.PermissionWrite)
}

func (o *Oracle) CanAdmin(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	return o.allows(ctx, userID, documentID, storage.PermissionAdmin)
}

func (o *Oracle) allows(ctx context.Context, userID, documentID uuid.UUID, required storage.PermissionKind) (bool, error) {
	level, err := o.effectiveLevel(ctx, userID, documentID)
	if err != nil {
		return false, err
	}
	return level >= required.Level(), nil
}

func (o *Oracle) effectiveLevel(ctx context.Context, userID, documentID uuid.UUID) (int, error) {
	doc, err := o.docs.GetByID(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve document %s: %w", documentID, err)
	}
	if doc.IsDeleted {
		return 0, ErrNotFound
	}
	if doc.OwnerID == userID {
		return storage.PermissionAdmin.Level(), nil
	}

	direct, err := o.perms.DocumentPermission(ctx, documentID, userID)
	if err != nil {
		return 0, err
	}
	level := direct.Level()

	if doc.VaultID != nil {
		inherited, err := o.perms.VaultPermission(ctx, *doc.VaultID, userID)
		if err != nil {
			return 0, err
		}
		if inherited.Level() > level {
			level = inherited.Level()
		}
	}
	return level, nil
}
