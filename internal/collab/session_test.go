package collab

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/acl"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/auth"
)

type staticVerifier struct {
	claims *auth.Claims
	err    error
}

func (v staticVerifier) Verify(context.Context, string) (*auth.Claims, error) {
	return v.claims, v.err
}

type staticOracle struct {
	canRead  bool
	canWrite bool
	err      error
}

func (o staticOracle) CanRead(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return o.canRead, o.err
}

func (o staticOracle) CanWrite(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return o.canWrite, o.err
}

// dialCloseCode opens a session against a throwaway server and returns the
// close code the admission path answered with.
func dialCloseCode(t *testing.T, verifier AuthVerifier, oracle PermissionOracle, query string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := newTestRegistry(newFakeLogStore(), newFakeSnapshots(), testSettings())
	srv := NewServer(registry, verifier, oracle, testSettings(), []string{"*"}, zap.NewNop())
	router := gin.New()
	router.GET("/:documentId", srv.HandleDocument)
	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/" + uuid.NewString() + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close frame, got %v", err)
	}
	return closeErr.Code
}

func TestSessionRejectsInvalidToken(t *testing.T) {
	verifier := staticVerifier{err: errors.New("token expired")}
	code := dialCloseCode(t, verifier, staticOracle{}, "?token=stale")
	if code != CloseUnauthenticated {
		t.Fatalf("close code = %d, want %d", code, CloseUnauthenticated)
	}
}

func TestSessionRequiresToken(t *testing.T) {
	verifier := staticVerifier{claims: &auth.Claims{UserID: uuid.New()}}
	code := dialCloseCode(t, verifier, staticOracle{canRead: true}, "")
	if code != CloseUnauthenticated {
		t.Fatalf("close code = %d, want %d", code, CloseUnauthenticated)
	}
}

func TestSessionRejectsUnknownDocument(t *testing.T) {
	verifier := staticVerifier{claims: &auth.Claims{UserID: uuid.New(), Username: "reader"}}
	code := dialCloseCode(t, verifier, staticOracle{err: acl.ErrNotFound}, "?token=ok")
	if code != CloseDocNotFound {
		t.Fatalf("close code = %d, want %d", code, CloseDocNotFound)
	}
}

func TestSessionRejectsReaderWithoutAccess(t *testing.T) {
	verifier := staticVerifier{claims: &auth.Claims{UserID: uuid.New(), Username: "stranger"}}
	code := dialCloseCode(t, verifier, staticOracle{canRead: false}, "?token=ok")
	if code != CloseUnauthorized {
		t.Fatalf("close code = %d, want %d", code, CloseUnauthorized)
	}
}
