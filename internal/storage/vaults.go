package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VaultRepository owns the vaults table.
type VaultRepository struct {
	db *pgxpool.Pool
}

func NewVaultRepository(db *pgxpool.Pool) *VaultRepository {
	return &VaultRepository{db: db}
}

const insertVaultSQL = `
	INSERT INTO vaults (id, owner_id, name, icon) VALUES ($1, $2, $3, $4)
	RETURNING created_at, updated_at`

func (r *VaultRepository) Create(ctx context.Context, vault *Vault) error {
	err := r.db.QueryRow(ctx, insertVaultSQL,
		vault.ID, vault.OwnerID, vault.Name, vault.Icon,
	).Scan(&vault.CreatedAt, &vault.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}
	return nil
}

func (r *VaultRepository) GetByID(ctx context.Context, id uuid.UUID) (*Vault, error) {
	var v Vault
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, name, icon, created_at, updated_at FROM vaults WHERE id = $1`, id,
	).Scan(&v.ID, &v.OwnerID, &v.Name, &v.Icon, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vault %s: %w", id, err)
	}
	return &v, nil
}

// ListForUser returns vaults the user owns or has any permission on.
func (r *VaultRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Vault, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT v.id, v.owner_id, v.name, v.icon, v.created_at, v.updated_at
		FROM vaults v
		LEFT JOIN vault_permissions vp ON vp.vault_id = v.id
		WHERE v.owner_id = $1 OR vp.user_id = $1
		ORDER BY v.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list vaults for user %s: %w", userID, err)
	}
	defer rows.Close()

	var vaults []*Vault
	for rows.Next() {
		var v Vault
		if err := rows.Scan(&v.ID, &v.OwnerID, &v.Name, &v.Icon, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		vaults = append(vaults, &v)
	}
	return vaults, rows.Err()
}

func (r *VaultRepository) Update(ctx context.Context, id uuid.UUID, name string, icon *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE vaults SET name = $2, icon = $3, updated_at = NOW() WHERE id = $1`,
		id, name, icon)
	if err != nil {
		return fmt.Errorf("update vault %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a vault; documents inside keep existing with vault_id NULL.
func (r *VaultRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin vault delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE documents SET vault_id = NULL, updated_at = NOW() WHERE vault_id = $1`, id); err != nil {
		return fmt.Errorf("detach documents from vault %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM vault_permissions WHERE vault_id = $1`, id); err != nil {
		return fmt.Errorf("delete permissions for vault %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM vaults WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete vault %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}
