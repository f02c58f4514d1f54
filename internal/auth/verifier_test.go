package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, userID uuid.UUID, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id":  userID.String(),
		"username": "tester",
		"email":    "tester@example.com",
		"exp":      time.Now().Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: testSecret}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestVerifyLocalToken(t *testing.T) {
	v := newTestVerifier(t)
	userID := uuid.New()
	token := signToken(t, testSecret, userID, time.Hour)

	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != userID {
		t.Fatalf("UserID = %s, want %s", claims.UserID, userID)
	}
	if claims.Username != "tester" {
		t.Fatalf("Username = %q, want %q", claims.Username, "tester")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, []byte("other-secret"), uuid.New(), time.Hour)

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, testSecret, uuid.New(), -time.Minute)

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	v := newTestVerifier(t)
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsTokenWithoutUserID(t *testing.T) {
	v := newTestVerifier(t)
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyCachesDecision(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, testSecret, uuid.New(), time.Hour)

	first, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.cache.Get(token); !ok {
		t.Fatal("decision not cached")
	}
	second, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if first.UserID != second.UserID {
		t.Fatal("cached claims differ")
	}
}

func TestCacheTTLClampedToTokenLifetime(t *testing.T) {
	short := &Claims{ExpiresAt: time.Now().Add(10 * time.Second)}
	if ttl := cacheTTL(short); ttl > 10*time.Second {
		t.Fatalf("ttl = %s, want <= 10s", ttl)
	}
	long := &Claims{ExpiresAt: time.Now().Add(time.Hour)}
	if ttl := cacheTTL(long); ttl != maxCacheTTL {
		t.Fatalf("ttl = %s, want %s", ttl, maxCacheTTL)
	}
	noExpiry := &Claims{}
	if ttl := cacheTTL(noExpiry); ttl != maxCacheTTL {
		t.Fatalf("ttl = %s, want %s", ttl, maxCacheTTL)
	}
}

func TestNewVerifierRequiresSomeBackend(t *testing.T) {
	if _, err := NewVerifier(Config{}, nil); err == nil {
		t.Fatal("expected error when neither secret nor service URL configured")
	}
}
