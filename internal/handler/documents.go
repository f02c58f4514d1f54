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

// PermissionOracle is the slice of the acl package the handlers need.
type PermissionOracle interface {
	CanRead(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
	CanWrite(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
	CanAdmin(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
}

type DocumentHandler struct {
	docs   *storage.DocumentRepository
	logs   *storage.LogStore
	snaps  *storage.SnapshotStore
	perms  *storage.PermissionRepository
	oracle PermissionOracle
	log    *zap.Logger
}

func NewDocumentHandler(docs *storage.DocumentRepository, logs *storage.LogStore, snaps *storage.SnapshotStore, perms *storage.PermissionRepository, oracle PermissionOracle, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, logs: logs, snaps: snaps, perms: perms, oracle: oracle, log: log}
}

type documentResponse struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"ownerId"`
	VaultID        *uuid.UUID `json:"vaultId"`
	ParentID       *uuid.UUID `json:"parentId"`
	Title          string     `json:"title"`
	Icon           *string    `json:"icon,omitempty"`
	IsFolder       bool       `json:"isFolder"`
	LastSnapshotAt *time.Time `json:"lastSnapshotAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toDocumentResponse(d *storage.Document) documentResponse {
	return documentResponse{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		VaultID:        d.VaultID,
		ParentID:       d.ParentID,
		Title:          d.Title,
		Icon:           d.Icon,
		IsFolder:       d.IsFolder,
		LastSnapshotAt: d.LastSnapshotAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type createDocumentRequest struct {
	Title    string     `json:"title" binding:"required,max=512"`
	VaultID  *uuid.UUID `json:"vaultId"`
	ParentID *uuid.UUID `json:"parentId"`
	Icon     *string    `json:"icon"`
	IsFolder bool       `json:"isFolder"`
}

// Create handles POST /api/v1/documents.
func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	caller := middleware.CallerIdentity(c)

	doc := &storage.Document{
		ID:       uuid.New(),
		OwnerID:  caller.UserID,
		VaultID:  req.VaultID,
		ParentID: req.ParentID,
		Title:    req.Title,
		Icon:     req.Icon,
		IsFolder: req.IsFolder,
	}
	if err := h.docs.Create(c.Request.Context(), doc); err != nil {
		respondStorageError(c, err)
		return
	}

	h.log.Info("document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("owner_id", caller.UserID.String()))
	c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

// Get handles GET /api/v1/documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller := middleware.CallerIdentity(c)

	if !h.requireAccess(c, caller.UserID, id, h.oracle.CanRead) {
		return
	}
	doc, err := h.docs.GetByID(c.Request.Context(), id)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// List handles GET /api/v1/documents (caller's own documents).
func (h *DocumentHandler) List(c *gin.Context) {
	caller := middleware.CallerIdentity(c)
	docs, err := h.docs.ListByOwner(c.Request.Context(), caller.UserID)
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

type updateDocumentRequest struct {
	Title string  `json:"title" binding:"required,max=512"`
	Icon  *string `json:"icon"`
}

// Update handles PUT /api/v1/documents/:id (title and icon).
func (h *DocumentHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	caller := middleware.CallerIdentity(c)
	if !h.requireAccess(c, caller.UserID, id, h.oracle.CanWrite) {
		return
	}

	if err := h.docs.UpdateMeta(c.Request.Context(), id, req.Title, req.Icon); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document updated"})
}

type moveDocumentRequest struct {
	VaultID  *uuid.UUID `json:"vaultId"`
	ParentID *uuid.UUID `json:"parentId"`
}

// Move handles POST /api/v1/documents/:id/move.
func (h *DocumentHandler) Move(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req moveDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	caller := middleware.CallerIdentity(c)
	if !h.requireAccess(c, caller.UserID, id, h.oracle.CanAdmin) {
		return
	}

	if err := h.docs.Move(c.Request.Context(), id, req.VaultID, req.ParentID); err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document moved"})
}

// Delete handles DELETE /api/v1/documents/:id. The row is soft-deleted;
// snapshots, log rows and attachments stay behind for recovery.
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller := middleware.CallerIdentity(c)
	if !h.requireAccess(c, caller.UserID, id, h.oracle.CanAdmin) {
		return
	}

	if err := h.docs.SoftDelete(c.Request.Context(), id); err != nil {
		respondStorageError(c, err)
		return
	}
	h.log.Info("document deleted",
		zap.String("document_id", id.String()),
		zap.String("user_id", caller.UserID.String()))
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

type documentStatsResponse struct {
	DocumentID      uuid.UUID  `json:"documentId"`
	PendingUpdates  int        `json:"pendingUpdates"`
	LastSnapshotAt  *time.Time `json:"lastSnapshotAt"`
	SnapshotStorage string     `json:"snapshotStorage"`
	SnapshotBytes   int64      `json:"snapshotBytes"`
}

// Stats handles GET /api/v1/documents/:id/stats: snapshot placement and how
// much log tail a reload would replay.
func (h *DocumentHandler) Stats(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller := middleware.CallerIdentity(c)
	if !h.requireAccess(c, caller.UserID, id, h.oracle.CanRead) {
		return
	}

	ctx := c.Request.Context()
	info, err := h.snaps.Info(ctx, id)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	var since *time.Time
	resp := documentStatsResponse{DocumentID: id, SnapshotStorage: string(storage.StorageNone)}
	if info != nil {
		at := info.LastSnapshotAt
		since = &at
		resp.LastSnapshotAt = &at
		resp.SnapshotStorage = string(info.Storage)
		resp.SnapshotBytes = info.SizeBytes
	}
	pending, err := h.logs.CountSince(ctx, id, since)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	resp.PendingUpdates = pending
	c.JSON(http.StatusOK, resp)
}

type documentSnapshotResponse struct {
	DocumentID     uuid.UUID  `json:"documentId"`
	Storage        string     `json:"storage"`
	SizeBytes      int64      `json:"sizeBytes"`
	LastSnapshotAt *time.Time `json:"lastSnapshotAt"`
}

// Snapshot handles GET /api/v1/documents/:id/snapshot: where the current
// snapshot lives and how big it is. Storage is "none" for documents that were
// never compacted.
func (h *DocumentHandler) Snapshot(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller := middleware.CallerIdentity(c)
	if !h.requireAccess(c, caller.UserID, id, h.oracle.CanRead) {
		return
	}

	info, err := h.snaps.Info(c.Request.Context(), id)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	resp := documentSnapshotResponse{DocumentID: id, Storage: string(storage.StorageNone)}
	if info != nil {
		at := info.LastSnapshotAt
		resp.Storage = string(info.Storage)
		resp.SizeBytes = info.SizeBytes
		resp.LastSnapshotAt = &at
	}
	c.JSON(http.StatusOK, resp)
}

// requireAccess runs one oracle check and writes the failure response itself.
func (h *DocumentHandler) requireAccess(c *gin.Context, userID, documentID uuid.UUID, check func(context.Context, uuid.UUID, uuid.UUID) (bool, error)) bool {
	allowed, err := check(c.Request.Context(), userID, documentID)
	if err != nil {
		respondStorageError(c, err)
		return false
	}
	if !allowed {
		forbidden(c)
		return false
	}
	return true
}
