package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/middleware"
)

// Deps is everything the REST router mounts.
type Deps struct {
	Documents   *DocumentHandler
	Vaults      *VaultHandler
	Attachments *AttachmentHandler
	Health      *HealthHandler
	Verifier    middleware.TokenVerifier

	AllowedOrigins []string
}

// NewRouter assembles the control-plane engine. Probes and metrics are
// unauthenticated; everything under /api/v1 requires an identity.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", deps.Health.Health)
	router.GET("/readiness", deps.Health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.RequireIdentity(deps.Verifier))
	{
		docs := api.Group("/documents")
		docs.POST("", deps.Documents.Create)
		docs.GET("", deps.Documents.List)
		docs.GET("/:id", deps.Documents.Get)
		docs.PUT("/:id", deps.Documents.Update)
		docs.DELETE("/:id", deps.Documents.Delete)
		docs.POST("/:id/move", deps.Documents.Move)
		docs.GET("/:id/stats", deps.Documents.Stats)
		docs.GET("/:id/snapshot", deps.Documents.Snapshot)
		docs.GET("/:id/attachments", deps.Attachments.ListForDocument)

		vaults := api.Group("/vaults")
		vaults.POST("", deps.Vaults.Create)
		vaults.GET("", deps.Vaults.List)
		vaults.GET("/:id", deps.Vaults.Get)
		vaults.PUT("/:id", deps.Vaults.Update)
		vaults.DELETE("/:id", deps.Vaults.Delete)
		vaults.GET("/:id/documents", deps.Vaults.Documents)
		vaults.POST("/:id/share", deps.Vaults.Share)
		vaults.POST("/:id/unshare", deps.Vaults.Unshare)
		vaults.DELETE("/:id/share/:userId", deps.Vaults.UnshareByPath)
		vaults.GET("/:id/collaborators", deps.Vaults.Collaborators)

		attachments := api.Group("/attachments")
		attachments.POST("", deps.Attachments.Initiate)
		attachments.GET("/:id", deps.Attachments.Get)
	}

	// The web client initiates uploads at the unversioned attachment paths;
	// both spellings are served.
	uploads := router.Group("/api/attachments")
	uploads.Use(middleware.RequireIdentity(deps.Verifier))
	{
		uploads.POST("/initiate", deps.Attachments.Initiate)
		uploads.GET("/:id", deps.Attachments.Get)
	}

	return router
}
