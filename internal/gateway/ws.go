package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleWebSocket validates the token at the edge and then pumps frames
// between the browser and the editor service in both directions. The editor
// re-checks authorization itself; the gateway only keeps anonymous traffic
// off the realtime port.
func (g *Gateway) handleWebSocket(c *gin.Context) {
	documentID := c.Param("documentId")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "document id required"})
		return
	}

	token := c.Query("token")
	if token == "" {
		if after, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "token required"})
		return
	}
	claims, err := g.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid or expired token"})
		return
	}

	backendURL, err := url.Parse(g.cfg.EditorWSURL)
	if err != nil {
		g.log.Error("bad editor ws url", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "backend misconfigured"})
		return
	}

	clientConn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Debug("edge upgrade failed", zap.Error(err))
		return
	}
	defer clientConn.Close()

	dialURL := fmt.Sprintf("%s://%s/%s?token=%s",
		backendURL.Scheme, backendURL.Host, documentID, url.QueryEscape(token))
	headers := http.Header{}
	headers.Set("X-User-ID", claims.UserID)
	headers.Set("X-User-Email", claims.Email)
	headers.Set("X-User-Username", claims.Username)
	headers.Set("X-Forwarded-For", c.ClientIP())

	backendConn, resp, err := websocket.DefaultDialer.Dial(dialURL, headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		g.log.Warn("editor dial failed",
			zap.String("document_id", documentID), zap.Int("status", status), zap.Error(err))
		_ = clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend unavailable"))
		return
	}
	defer backendConn.Close()

	g.log.Info("ws proxy opened",
		zap.String("document_id", documentID), zap.String("user_id", claims.UserID))

	errCh := make(chan error, 2)
	go pump(clientConn, backendConn, errCh)
	go pump(backendConn, clientConn, errCh)
	<-errCh

	g.log.Info("ws proxy closed",
		zap.String("document_id", documentID), zap.String("user_id", claims.UserID))
}

func pump(src, dst *websocket.Conn, errCh chan<- error) {
	for {
		msgType, message, err := src.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		if err := dst.WriteMessage(msgType, message); err != nil {
			errCh <- err
			return
		}
	}
}
