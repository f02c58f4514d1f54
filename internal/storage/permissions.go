package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PermissionRepository owns document_permissions and vault_permissions.
// Both tables are unique on (object, user); upserts replace the kind.
type PermissionRepository struct {
	db *pgxpool.Pool
}

func NewPermissionRepository(db *pgxpool.Pool) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// DocumentPermission returns the user's direct permission on a document, or
// "" when none exists.
func (r *PermissionRepository) DocumentPermission(ctx context.Context, documentID, userID uuid.UUID) (PermissionKind, error) {
	var kind PermissionKind
	err := r.db.QueryRow(ctx,
		`SELECT permission FROM document_permissions WHERE document_id = $1 AND user_id = $2`,
		documentID, userID,
	).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("document permission for %s/%s: %w", documentID, userID, err)
	}
	return kind, nil
}

// VaultPermission returns the user's permission on a vault, or "" when none.
func (r *PermissionRepository) VaultPermission(ctx context.Context, vaultID, userID uuid.UUID) (PermissionKind, error) {
	var kind PermissionKind
	err := r.db.QueryRow(ctx,
		`SELECT permission FROM vault_permissions WHERE vault_id = $1 AND user_id = $2`,
		vaultID, userID,
	).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("vault permission for %s/%s: %w", vaultID, userID, err)
	}
	return kind, nil
}

// GrantDocument upserts a direct document permission.
func (r *PermissionRepository) GrantDocument(ctx context.Context, documentID, userID uuid.UUID, kind PermissionKind) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO document_permissions (document_id, user_id, permission) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET permission = EXCLUDED.permission`,
		documentID, userID, kind)
	if err != nil {
		return fmt.Errorf("grant document permission: %w", err)
	}
	return nil
}

// GrantVault adds a vault permission. A duplicate grant of the same kind is a
// conflict so the share endpoint can answer 409.
func (r *PermissionRepository) GrantVault(ctx context.Context, vaultID, userID uuid.UUID, kind PermissionKind) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO vault_permissions (vault_id, user_id, permission) VALUES ($1, $2, $3)
		ON CONFLICT (vault_id, user_id) DO UPDATE SET permission = EXCLUDED.permission
		WHERE vault_permissions.permission IS DISTINCT FROM EXCLUDED.permission`,
		vaultID, userID, kind)
	if err != nil {
		if strings.Contains(err.Error(), "foreign key") {
			return ErrNotFound
		}
		return fmt.Errorf("grant vault permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// RevokeVault removes a user's vault permission.
func (r *PermissionRepository) RevokeVault(ctx context.Context, vaultID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM vault_permissions WHERE vault_id = $1 AND user_id = $2`,
		vaultID, userID)
	if err != nil {
		return fmt.Errorf("revoke vault permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Collaborator is a (user, permission) pair on a vault.
type Collaborator struct {
	UserID     uuid.UUID
	Permission PermissionKind
}

// VaultCollaborators lists everyone sharing a vault.
func (r *PermissionRepository) VaultCollaborators(ctx context.Context, vaultID uuid.UUID) ([]Collaborator, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, permission FROM vault_permissions WHERE vault_id = $1 ORDER BY user_id`,
		vaultID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators for vault %s: %w", vaultID, err)
	}
	defer rows.Close()

	var out []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.UserID, &c.Permission); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
