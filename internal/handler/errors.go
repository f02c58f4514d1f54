// Package handler is the REST control plane: document, vault and attachment
// CRUD plus the health, readiness and metrics probes. The realtime path does
// not go through here.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/acl"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
)

// errorBody is the uniform error envelope of every non-2xx response.
type errorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorBody{Error: code, Message: message})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, "validation_error", message)
}

func notFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, "not_found", message)
}

func forbidden(c *gin.Context) {
	respondError(c, http.StatusForbidden, "forbidden", "insufficient permissions")
}

func conflict(c *gin.Context, message string) {
	respondError(c, http.StatusConflict, "conflict", message)
}

// respondStorageError maps repository and oracle failures onto the envelope.
func respondStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, acl.ErrNotFound):
		notFound(c, "resource not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		conflict(c, "resource already exists")
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
