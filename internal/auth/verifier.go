// Package auth validates bearer tokens for session admission. When the
// signing secret is configured tokens are verified locally (HMAC-SHA256);
// otherwise the identity service is asked via GET /api/v1/users/me.
// Successful decisions are cached with a bounded LRU and a short TTL, and a
// Redis revocation set is consulted once per admission.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/pkg/logger"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: expired token")
	ErrRevokedToken = errors.New("auth: token has been revoked")
)

const (
	// maxCacheTTL caps how long a verified decision may be reused.
	maxCacheTTL = 60 * time.Second

	defaultCacheSize = 10000

	introspectTimeout = 5 * time.Second
)

// Claims is what the rest of the service sees of an authenticated user.
type Claims struct {
	UserID    uuid.UUID
	Username  string
	Email     string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	jwt.RegisteredClaims
}

type cacheEntry struct {
	claims  Claims
	staleAt time.Time
}

// Config for the verifier. Secret empty means remote-introspect mode.
type Config struct {
	Secret         []byte
	AuthServiceURL string
	CacheSize      int
}

type Verifier struct {
	secret     []byte
	serviceURL string
	httpClient *http.Client
	cache      *lru.Cache[string, cacheEntry]
	revocation *redis.Client
	log        *zap.Logger
}

// NewVerifier builds a verifier; revocation may be nil when Redis is not
// deployed, in which case revocation checks are skipped.
func NewVerifier(cfg Config, revocation *redis.Client) (*Verifier, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("auth cache: %w", err)
	}
	if len(cfg.Secret) == 0 && cfg.AuthServiceURL == "" {
		return nil, fmt.Errorf("neither JWT secret nor auth service URL configured")
	}
	return &Verifier{
		secret:     cfg.Secret,
		serviceURL: cfg.AuthServiceURL,
		httpClient: &http.Client{Timeout: introspectTimeout},
		cache:      cache,
		revocation: revocation,
		log:        logger.WithModule("auth"),
	}, nil
}

// Verify resolves a bearer token into claims.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	if err := v.checkRevoked(ctx, token); err != nil {
		return nil, err
	}

	if entry, ok := v.cache.Get(token); ok {
		if time.Now().Before(entry.staleAt) {
			v.purgeExpired()
			claims := entry.claims
			return &claims, nil
		}
		v.cache.Remove(token)
	}

	var (
		claims *Claims
		err    error
	)
	if len(v.secret) > 0 {
		claims, err = v.verifyLocal(token)
	} else {
		claims, err = v.introspect(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	v.cache.Add(token, cacheEntry{claims: *claims, staleAt: time.Now().Add(cacheTTL(claims))})
	return claims, nil
}

// cacheTTL is min(token remaining lifetime, 60s). Remote claims without an
// expiry get the full 60s.
func cacheTTL(c *Claims) time.Duration {
	if c.ExpiresAt.IsZero() {
		return maxCacheTTL
	}
	remaining := time.Until(c.ExpiresAt)
	if remaining < maxCacheTTL {
		return remaining
	}
	return maxCacheTTL
}

func (v *Verifier) checkRevoked(ctx context.Context, token string) error {
	if v.revocation == nil {
		return nil
	}
	exists, err := v.revocation.Exists(ctx, "revoked:"+token).Result()
	if err != nil {
		// Tolerate Redis being down; the token still has to verify.
		v.log.Warn("revocation check failed", zap.Error(err))
		return nil
	}
	if exists > 0 {
		return ErrRevokedToken
	}
	return nil
}

func (v *Verifier) verifyLocal(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || tc.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		UserID:   tc.UserID,
		Username: tc.Username,
		Email:    tc.Email,
	}
	if tc.ExpiresAt != nil {
		claims.ExpiresAt = tc.ExpiresAt.Time
	}
	return claims, nil
}

type introspectResponse struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

func (v *Verifier) introspect(ctx context.Context, token string) (*Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.serviceURL+"/api/v1/users/me", nil)
	if err != nil {
		return nil, fmt.Errorf("build introspect request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspect token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrExpiredToken
	default:
		return nil, fmt.Errorf("identity service answered %d", resp.StatusCode)
	}

	var body introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ErrInvalidToken
	}
	if body.ID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return &Claims{UserID: body.ID, Username: body.Username, Email: body.Email}, nil
}

// purgeExpired drops stale entries; invoked on cache hits so a hot verifier
// keeps its own house clean without a background task.
func (v *Verifier) purgeExpired() {
	now := time.Now()
	for _, key := range v.cache.Keys() {
		if entry, ok := v.cache.Peek(key); ok && now.After(entry.staleAt) {
			v.cache.Remove(key)
		}
	}
}
