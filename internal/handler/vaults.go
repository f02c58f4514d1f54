package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/middleware"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

// ShareNotifier sends "shared with you" notices. Delivery is best-effort and
// never fails the share request.
type ShareNotifier interface {
	NotifyShare(ctx context.Context, recipientEmail, sharerName, resourceName string) error
}

type VaultHandler struct {
	vaults   *storage.VaultRepository
	docs     *storage.DocumentRepository
	perms    *storage.PermissionRepository
	notifier ShareNotifier
	log      *zap.Logger
}

func NewVaultHandler(vaults *storage.VaultRepository, docs *storage.DocumentRepository, perms *storage.PermissionRepository, notifier ShareNotifier, log *zap.Logger) *VaultHandler {
	return &VaultHandler{vaults: vaults, docs: docs, perms: perms, notifier: notifier, log: log}
}

type vaultResponse struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Name      string    `json:"name"`
	Icon      *string   `json:"icon,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toVaultResponse(v *storage.Vault) vaultResponse {
	return vaultResponse{
		ID:        v.ID,
		OwnerID:   v.OwnerID,
		Name:      v.Name,
		Icon:      v.Icon,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

type createVaultRequest struct {
	Name string  `json:"name" binding:"required,max=256"`
	Icon *string `json:"icon"`
}

// Create handles POST /api/v1/vaults.
func (h *VaultHandler) Create(c *gin.Context) {
	var req createVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	caller := middleware.CallerIdentity(c)

	vault := &storage.Vault{
		ID:      uuid.New(),
		OwnerID: caller.UserID,
		Name:    req.Name,
		Icon:    req.Icon,
	}
	if err := h.vaults.Create(c.Request.Context(), vault); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toVaultResponse(vault))
}

// List handles GET /api/v1/vaults: owned plus shared-with-me.
func (h *VaultHandler) List(c *gin.Context) {
	caller := middleware.CallerIdentity(c)
	vaults, err := h.vaults.ListForUser(c.Request.Context(), caller.UserID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	out := make([]vaultResponse, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, toVaultResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"vaults": out})
}

// Get handles GET /api/v1/vaults/:id.
func (h *VaultHandler) Get(c *gin.Context) {
	vault, _, ok := h.loadForLevel(c, storage.PermissionRead)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toVaultResponse(vault))
}

// Update handles PUT /api/v1/vaults/:id.
func (h *VaultHandler) Update(c *gin.Context) {
	var req createVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	vault, _, ok := h.loadForLevel(c, storage.PermissionAdmin)
	if !ok {
		return
	}
	if err := h.vaults.Update(c.Request.Context(), vault.ID, req.Name, req.Icon); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "vault updated"})
}

// Delete handles DELETE /api/v1/vaults/:id. Documents inside are detached,
// not deleted.
func (h *VaultHandler) Delete(c *gin.Context) {
	vault, caller, ok := h.loadForLevel(c, storage.PermissionAdmin)
	if !ok {
		return
	}
	if err := h.vaults.Delete(c.Request.Context(), vault.ID); err != nil {
		respondStorageError(c, err)
		return
	}
	h.log.Info("vault deleted",
		zap.String("vault_id", vault.ID.String()),
		zap.String("user_id", caller.UserID.String()))
	c.JSON(http.StatusOK, gin.H{"message": "vault deleted"})
}

// Documents handles GET /api/v1/vaults/:id/documents.
func (h *VaultHandler) Documents(c *gin.Context) {
	vault, _, ok := h.loadForLevel(c, storage.PermissionRead)
	if !ok {
		return
	}
	docs, err := h.docs.ListByVault(c.Request.Context(), vault.ID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

type shareVaultRequest struct {
	UserID     uuid.UUID              `json:"userId" binding:"required"`
	Permission storage.PermissionKind `json:"permission" binding:"required,oneof=read write admin"`
	Email      string                 `json:"email"`
}

// Share handles POST /api/v1/vaults/:id/share. Granting the identical
// permission twice answers 409; a different level upgrades or downgrades the
// existing grant.
func (h *VaultHandler) Share(c *gin.Context) {
	var req shareVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	vault, caller, ok := h.loadForLevel(c, storage.PermissionAdmin)
	if !ok {
		return
	}
	if req.UserID == vault.OwnerID {
		badRequest(c, "cannot share a vault with its owner")
		return
	}

	if err := h.perms.GrantVault(c.Request.Context(), vault.ID, req.UserID, req.Permission); err != nil {
		respondStorageError(c, err)
		return
	}

	h.log.Info("vault shared",
		zap.String("vault_id", vault.ID.String()),
		zap.String("grantee_id", req.UserID.String()),
		zap.String("permission", string(req.Permission)))

	if h.notifier != nil && req.Email != "" {
		// Fire and forget; the grant already landed.
		go func(email, sharer, name string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.notifier.NotifyShare(ctx, email, sharer, name); err != nil {
				h.log.Warn("share notice failed", zap.String("email", email), zap.Error(err))
			}
		}(req.Email, caller.Username, vault.Name)
	}
	c.JSON(http.StatusOK, gin.H{"message": "vault shared"})
}

type unshareVaultRequest struct {
	UserID uuid.UUID `json:"userId" binding:"required"`
}

// Unshare handles POST /api/v1/vaults/:id/unshare.
func (h *VaultHandler) Unshare(c *gin.Context) {
	var req unshareVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	vault, _, ok := h.loadForLevel(c, storage.PermissionAdmin)
	if !ok {
		return
	}
	if err := h.perms.RevokeVault(c.Request.Context(), vault.ID, req.UserID); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "vault unshared"})
}

// UnshareByPath handles DELETE /api/v1/vaults/:id/share/:userId, the
// path-parameter spelling of Unshare.
func (h *VaultHandler) UnshareByPath(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return
	}
	vault, _, ok := h.loadForLevel(c, storage.PermissionAdmin)
	if !ok {
		return
	}
	if err := h.perms.RevokeVault(c.Request.Context(), vault.ID, userID); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "vault unshared"})
}

type collaboratorResponse struct {
	UserID     uuid.UUID `json:"userId"`
	Permission string    `json:"permission"`
}

// Collaborators handles GET /api/v1/vaults/:id/collaborators.
func (h *VaultHandler) Collaborators(c *gin.Context) {
	vault, _, ok := h.loadForLevel(c, storage.PermissionRead)
	if !ok {
		return
	}
	collabs, err := h.perms.VaultCollaborators(c.Request.Context(), vault.ID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	out := make([]collaboratorResponse, 0, len(collabs)+1)
	out = append(out, collaboratorResponse{UserID: vault.OwnerID, Permission: string(storage.PermissionAdmin)})
	for _, col := range collabs {
		out = append(out, collaboratorResponse{UserID: col.UserID, Permission: string(col.Permission)})
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": out})
}

// loadForLevel fetches the vault and enforces the caller's effective level on
// it: the owner holds admin, everyone else what vault_permissions says.
func (h *VaultHandler) loadForLevel(c *gin.Context, required storage.PermissionKind) (*storage.Vault, middleware.Identity, bool) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return nil, middleware.Identity{}, false
	}
	caller := middleware.CallerIdentity(c)

	vault, err := h.vaults.GetByID(c.Request.Context(), id)
	if err != nil {
		respondStorageError(c, err)
		return nil, caller, false
	}
	if vault.OwnerID == caller.UserID {
		return vault, caller, true
	}

	granted, err := h.perms.VaultPermission(c.Request.Context(), id, caller.UserID)
	if err != nil {
		respondStorageError(c, err)
		return nil, caller, false
	}
	if granted.Level() < required.Level() {
		forbidden(c)
		return nil, caller, false
	}
	return vault, caller, true
}
