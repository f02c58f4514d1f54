package collab

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/acl"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/auth"
)

const (
	authBudget   = 5 * time.Second
	maxFrameSize = 2 << 20 // 2 MiB per inbound frame
)

// AuthVerifier resolves a bearer token into claims.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// PermissionOracle answers per-document access questions at admission time.
type PermissionOracle interface {
	CanRead(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
	CanWrite(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
}

// Server is the WebSocket endpoint of the editor: it admits sessions, binds
// them to replicas and runs their read loops.
type Server struct {
	registry *Registry
	verifier AuthVerifier
	oracle   PermissionOracle
	settings Settings
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(registry *Registry, verifier AuthVerifier, oracle PermissionOracle, settings Settings, allowedOrigins []string, log *zap.Logger) *Server {
	return &Server{
		registry: registry,
		verifier: verifier,
		oracle:   oracle,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		_, ok := set[strings.TrimSuffix(origin, "/")]
		return ok
	}
}

var errMissingToken = errors.New("collab: missing bearer token")

// HandleDocument upgrades GET /:documentId into a collaborative session.
// Admission failures are reported after the upgrade via close codes
// (4401/4403/4404); browsers cannot read the body of a failed upgrade, and
// the codes let the client distinguish "log in again" from "you cannot see
// this".
func (s *Server) HandleDocument(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid document id"})
		return
	}

	var (
		claims            *auth.Claims
		authErr           error
		canRead, canWrite bool
		readErr           error
	)
	authCtx, cancel := context.WithTimeout(c.Request.Context(), authBudget)
	if token := bearerToken(c); token == "" {
		authErr = errMissingToken
	} else {
		claims, authErr = s.verifier.Verify(authCtx, token)
	}
	if authErr == nil {
		canRead, readErr = s.oracle.CanRead(authCtx, claims.UserID, documentID)
		if readErr == nil && canRead {
			canWrite, readErr = s.oracle.CanWrite(authCtx, claims.UserID, documentID)
		}
	}
	cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	switch {
	case authErr != nil:
		closeAndDiscard(conn, CloseUnauthenticated, "authentication required")
		return
	case errors.Is(readErr, acl.ErrNotFound):
		closeAndDiscard(conn, CloseDocNotFound, "document not found")
		return
	case readErr != nil:
		s.log.Error("permission check failed", zap.String("document_id", documentID.String()), zap.Error(readErr))
		closeAndDiscard(conn, CloseInternalError, "permission check failed")
		return
	case !canRead:
		closeAndDiscard(conn, CloseUnauthorized, "access denied")
		return
	}

	replica, err := s.registry.Acquire(c.Request.Context(), documentID)
	if err != nil {
		s.log.Error("replica acquire failed", zap.String("document_id", documentID.String()), zap.Error(err))
		closeAndDiscard(conn, CloseInternalError, "document unavailable")
		return
	}

	session := newClient(conn, newSessionID(), claims.UserID, claims.Username, canWrite, s.settings.BackpressureLimit)
	replica.attach(session)
	defer func() {
		replica.detach(session)
		s.registry.Release(documentID)
	}()

	go session.writePump(s.settings.SessionTimeout)

	for _, frame := range replica.initialFrames(session.session) {
		if !session.trySend(frame) {
			session.dropForBackpressure()
			return
		}
	}

	s.log.Info("session opened",
		zap.String("document_id", documentID.String()),
		zap.String("user_id", claims.UserID.String()),
		zap.Bool("can_write", canWrite))

	s.readLoop(replica, session)

	s.log.Info("session closed",
		zap.String("document_id", documentID.String()),
		zap.String("user_id", claims.UserID.String()))
}

func (s *Server) readLoop(replica *Replica, session *client) {
	conn := session.conn
	conn.SetReadLimit(maxFrameSize)
	readDeadline := 2 * s.settings.SessionTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			session.close(CloseInternalError, "")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		if msgType != websocket.BinaryMessage {
			continue
		}

		kind, payload, err := splitFrame(frame)
		if err != nil {
			continue
		}
		switch kind {
		case frameUpdate:
			if !session.canWrite {
				session.close(CloseUnauthorized, "read-only session")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			err := replica.ApplyUpdate(ctx, session, payload)
			cancel()
			if err != nil {
				s.log.Warn("update rejected",
					zap.String("document_id", replica.DocumentID().String()),
					zap.String("user_id", session.userID.String()),
					zap.Error(err))
				session.close(CloseInternalError, "update rejected")
				return
			}
		case frameAwareness:
			replica.SetAwareness(session, payload)
		case frameSync:
			if err := replica.HandleSync(session, payload); err != nil {
				s.log.Debug("malformed sync frame",
					zap.String("document_id", replica.DocumentID().String()), zap.Error(err))
			}
		}
	}
}

// bearerToken accepts the token as ?token= (browsers cannot set headers on
// WebSocket dials) or a standard Authorization header.
func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

func closeAndDiscard(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(closeDeadline)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func newSessionID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
