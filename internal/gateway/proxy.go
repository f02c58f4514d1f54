package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var servicePrefixes = []string{
	"/api/auth-service",
	"/api/editor-service",
}

// proxyTo forwards the request to a backend, stripping the service prefix and
// stamping identity and tracing headers.
func (g *Gateway) proxyTo(targetURL string, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := url.Parse(targetURL)
		if err != nil {
			g.log.Error("bad backend url", zap.String("url", targetURL), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "backend misconfigured"})
			return
		}

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		proxy := &httputil.ReverseProxy{
			Director: func(req *http.Request) {
				req.URL.Scheme = target.Scheme
				req.URL.Host = target.Host
				req.Host = target.Host
				req.URL.Path = stripServicePrefix(c.Request.URL.Path)
				req.URL.RawQuery = c.Request.URL.RawQuery

				if userID, ok := c.Get("user_id"); ok {
					req.Header.Set("X-User-ID", userID.(string))
				}
				if email, ok := c.Get("user_email"); ok {
					req.Header.Set("X-User-Email", email.(string))
				}
				if username, ok := c.Get("user_username"); ok {
					req.Header.Set("X-User-Username", username.(string))
				}

				req.Header.Set("X-Forwarded-For", c.ClientIP())
				req.Header.Set("X-Real-IP", c.ClientIP())
				req.Header.Set("X-Request-ID", requestID)
			},
			ModifyResponse: func(resp *http.Response) error {
				resp.Header.Set("X-Request-ID", requestID)
				return nil
			},
			ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
				g.log.Error("proxy error",
					zap.String("backend", target.Host),
					zap.String("request_id", requestID),
					zap.Error(err))
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusBadGateway)
				_, _ = io.WriteString(rw, `{"error":"service_unavailable","message":"service temporarily unavailable"}`)
			},
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		proxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}

func stripServicePrefix(path string) string {
	for _, prefix := range servicePrefixes {
		if strings.HasPrefix(path, prefix) {
			stripped := strings.TrimPrefix(path, prefix)
			if stripped == "" {
				return "/"
			}
			return stripped
		}
	}
	return path
}
