// Package middleware holds the gin middleware for the control plane: request
// identity extraction and request ids.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/auth"
)

const identityKey = "identity"

// Identity is the authenticated caller of a REST request.
type Identity struct {
	UserID   uuid.UUID
	Username string
	Email    string
}

// TokenVerifier is the bearer fallback used when no gateway headers arrived.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// RequireIdentity resolves who is calling. Behind the gateway the identity
// arrives in X-User-* headers it stamped after validating the token; a direct
// caller may instead present a bearer token, verified here.
func RequireIdentity(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := identityFromHeaders(c); ok {
			c.Set(identityKey, id)
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" || verifier == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "authentication required",
			})
			return
		}
		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid or expired token",
			})
			return
		}
		c.Set(identityKey, Identity{
			UserID:   claims.UserID,
			Username: claims.Username,
			Email:    claims.Email,
		})
		c.Next()
	}
}

func identityFromHeaders(c *gin.Context) (Identity, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return Identity{}, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return Identity{}, false
	}
	return Identity{
		UserID:   userID,
		Username: c.GetHeader("X-User-Username"),
		Email:    c.GetHeader("X-User-Email"),
	}, true
}

// CallerIdentity returns the identity set by RequireIdentity.
func CallerIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}
