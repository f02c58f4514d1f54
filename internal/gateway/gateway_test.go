package gateway

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestStripServicePrefix(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/api/editor-service/api/v1/documents", "/api/v1/documents"},
		{"/api/auth-service/api/v1/users/me", "/api/v1/users/me"},
		{"/api/editor-service", "/"},
		{"/health", "/health"},
	}
	for _, tc := range cases {
		if got := stripServicePrefix(tc.in); got != tc.want {
			t.Fatalf("stripServicePrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRateLimiterAllowsBurstThenDenies(t *testing.T) {
	l := newIPRateLimiter(rate.Limit(1), 3)
	lim := l.limiter("10.0.0.1")

	for i := 0; i < 3; i++ {
		if !lim.Allow() {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	if lim.Allow() {
		t.Fatal("request allowed beyond burst")
	}
	// A different IP gets its own bucket.
	if !l.limiter("10.0.0.2").Allow() {
		t.Fatal("fresh IP denied")
	}
}

func TestRateLimiterPrunes(t *testing.T) {
	l := newIPRateLimiter(rate.Limit(1), 1)
	for i := 0; i <= pruneAbove; i++ {
		l.limiters[string(rune(i))] = rate.NewLimiter(l.rate, l.burst)
	}
	l.limiter("fresh")
	if len(l.limiters) > 2 {
		t.Fatalf("map not pruned, %d entries", len(l.limiters))
	}
}

func newTestGateway(secret []byte) *Gateway {
	return New(Config{
		JWTSecret:      secret,
		AllowedOrigins: []string{"https://app.example.com"},
		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}, zap.NewNop())
}

func TestValidateTokenExtractsIdentity(t *testing.T) {
	secret := []byte("edge-secret")
	g := newTestGateway(secret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  "0b8f5c2e-9f7d-4f1a-9a3b-1c2d3e4f5a6b",
		"username": "tester",
		"email":    "tester@example.com",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := g.validateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "0b8f5c2e-9f7d-4f1a-9a3b-1c2d3e4f5a6b" {
		t.Fatalf("UserID = %q", claims.UserID)
	}
	if claims.Username != "tester" || claims.Email != "tester@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateTokenRejectsBadSignatureAndMissingClaim(t *testing.T) {
	g := newTestGateway([]byte("edge-secret"))

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.validateToken(forged); err == nil {
		t.Fatal("forged token accepted")
	}

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("edge-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.validateToken(anonymous); err == nil {
		t.Fatal("token without user_id accepted")
	}
}
