package handler

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/blob"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/middleware"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

const presignTTL = time.Hour

type AttachmentHandler struct {
	attachments *storage.AttachmentRepository
	blobs       blob.Store
	oracle      PermissionOracle
	bucket      string
	log         *zap.Logger
}

func NewAttachmentHandler(attachments *storage.AttachmentRepository, blobs blob.Store, oracle PermissionOracle, bucket string, log *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments, blobs: blobs, oracle: oracle, bucket: bucket, log: log}
}

type initiateUploadRequest struct {
	DocumentID  uuid.UUID `json:"documentId" binding:"required"`
	Filename    string    `json:"filename" binding:"required,max=512"`
	ContentType string    `json:"contentType" binding:"required"`
	SizeBytes   int64     `json:"sizeBytes" binding:"required,min=1"`
}

type initiateUploadResponse struct {
	AttachmentID uuid.UUID `json:"attachmentId"`
	UploadURL    string    `json:"uploadUrl"`
	ExpiresIn    int       `json:"expiresIn"`
}

// Initiate handles POST /api/v1/attachments: records the attachment row and
// hands back a presigned PUT so the upload bypasses this service.
func (h *AttachmentHandler) Initiate(c *gin.Context) {
	var req initiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	filename := sanitizeFilename(req.Filename)
	if filename == "" {
		badRequest(c, "invalid filename")
		return
	}
	caller := middleware.CallerIdentity(c)

	allowed, err := h.oracle.CanWrite(c.Request.Context(), caller.UserID, req.DocumentID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	if !allowed {
		forbidden(c)
		return
	}

	key := fmt.Sprintf("%s/%s/%d-%s", caller.UserID, req.DocumentID, time.Now().UnixMilli(), filename)
	uploadURL, err := h.blobs.PresignPut(c.Request.Context(), h.bucket, key, presignTTL)
	if err != nil {
		respondStorageError(c, err)
		return
	}

	attachment := &storage.Attachment{
		ID:          uuid.New(),
		DocumentID:  req.DocumentID,
		Filename:    filename,
		MinioPath:   key,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		UploadedBy:  caller.UserID,
	}
	if err := h.attachments.Create(c.Request.Context(), attachment); err != nil {
		respondStorageError(c, err)
		return
	}

	h.log.Info("attachment upload initiated",
		zap.String("attachment_id", attachment.ID.String()),
		zap.String("document_id", req.DocumentID.String()),
		zap.Int64("size_bytes", req.SizeBytes))
	c.JSON(http.StatusCreated, initiateUploadResponse{
		AttachmentID: attachment.ID,
		UploadURL:    uploadURL,
		ExpiresIn:    int(presignTTL.Seconds()),
	})
}

type attachmentResponse struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"documentId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	DownloadURL string    `json:"downloadUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Get handles GET /api/v1/attachments/:id: metadata plus a presigned GET.
func (h *AttachmentHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller := middleware.CallerIdentity(c)

	attachment, err := h.attachments.GetByID(c.Request.Context(), id)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	allowed, err := h.oracle.CanRead(c.Request.Context(), caller.UserID, attachment.DocumentID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	if !allowed {
		forbidden(c)
		return
	}

	downloadURL, err := h.blobs.PresignGet(c.Request.Context(), h.bucket, attachment.MinioPath, presignTTL)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, attachmentResponse{
		ID:          attachment.ID,
		DocumentID:  attachment.DocumentID,
		Filename:    attachment.Filename,
		ContentType: attachment.ContentType,
		SizeBytes:   attachment.SizeBytes,
		DownloadURL: downloadURL,
		CreatedAt:   attachment.CreatedAt,
	})
}

// ListForDocument handles GET /api/v1/documents/:id/attachments.
func (h *AttachmentHandler) ListForDocument(c *gin.Context) {
	documentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller := middleware.CallerIdentity(c)

	allowed, err := h.oracle.CanRead(c.Request.Context(), caller.UserID, documentID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	if !allowed {
		forbidden(c)
		return
	}

	attachments, err := h.attachments.ListByDocument(c.Request.Context(), documentID)
	if err != nil {
		respondStorageError(c, err)
		return
	}
	out := make([]attachmentResponse, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, attachmentResponse{
			ID:          a.ID,
			DocumentID:  a.DocumentID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			SizeBytes:   a.SizeBytes,
			CreatedAt:   a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"attachments": out})
}

// sanitizeFilename strips path components so the object key stays under the
// caller's prefix.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
