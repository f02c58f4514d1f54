package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config wires the gateway to its backends.
type Config struct {
	AuthServiceURL   string
	EditorServiceURL string
	EditorWSURL      string
	JWTSecret        []byte
	AllowedOrigins   []string
	RateLimitRPS     float64
	RateLimitBurst   int
}

type Gateway struct {
	cfg      Config
	limiter  *ipRateLimiter
	upgrader websocket.Upgrader
	log      *zap.Logger
	started  time.Time
}

func New(cfg Config, log *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		limiter: newIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		log:     log,
		started: time.Now(),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Router assembles the edge engine. The identity service is public (login and
// registration live there); the editor service requires a valid token, which
// is also translated into X-User-* headers so backends never re-parse it.
func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(g.limiter.middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     g.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", g.health)
	router.GET("/readiness", g.readiness)
	router.GET("/ws/document/:documentId", g.handleWebSocket)

	api := router.Group("/api")
	{
		api.Any("/auth-service/*path", g.proxyTo(g.cfg.AuthServiceURL, 5*time.Second))

		editor := api.Group("/editor-service")
		editor.Use(g.authMiddleware())
		editor.Any("/*path", g.proxyTo(g.cfg.EditorServiceURL, 15*time.Second))
	}
	return router
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// callerClaims is what the gateway extracts from a bearer token.
type callerClaims struct {
	UserID   string
	Email    string
	Username string
}

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "bearer token required",
			})
			return
		}

		claims, err := g.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid or expired token",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("user_username", claims.Username)
		c.Next()
	}
}

func (g *Gateway) validateToken(tokenString string) (*callerClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unreadable claims")
	}
	userID, ok := mapClaims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("token missing user_id claim")
	}

	claims := &callerClaims{UserID: userID}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if username, ok := mapClaims["username"].(string); ok {
		claims.Username = username
	}
	return claims, nil
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"service":       "api-gateway",
		"uptimeSeconds": int(time.Since(g.started).Seconds()),
	})
}

// readiness probes every backend health endpoint.
func (g *Gateway) readiness(c *gin.Context) {
	backends := map[string]string{
		"auth":   g.cfg.AuthServiceURL + "/health",
		"editor": g.cfg.EditorServiceURL + "/health",
	}

	client := &http.Client{Timeout: 2 * time.Second}
	checks := gin.H{}
	ready := true

	for name, healthURL := range backends {
		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, healthURL, nil)
		if err != nil {
			checks[name] = "down"
			ready = false
			continue
		}
		resp, err := client.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			g.log.Warn("backend not ready", zap.String("backend", name), zap.Error(err))
			checks[name] = "down"
			ready = false
		} else {
			checks[name] = "up"
		}
		if resp != nil {
			resp.Body.Close()
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
