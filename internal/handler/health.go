package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/blob"
)

// WorkerStatus is what the health endpoint reports about the compactor.
type WorkerStatus interface {
	Running() bool
}

// ReplicaStatus reports the live session layer.
type ReplicaStatus interface {
	ReplicaCount() int
}

type HealthHandler struct {
	db       *pgxpool.Pool
	rdb      *redis.Client
	blobs    blob.Store
	bucket   string
	worker   WorkerStatus
	replicas ReplicaStatus
	started  time.Time
	log      *zap.Logger
}

func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client, blobs blob.Store, bucket string, worker WorkerStatus, replicas ReplicaStatus, log *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		rdb:      rdb,
		blobs:    blobs,
		bucket:   bucket,
		worker:   worker,
		replicas: replicas,
		started:  time.Now(),
		log:      log,
	}
}

// Health handles GET /health: liveness plus a cheap status summary.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"workerRunning":  h.worker != nil && h.worker.Running(),
		"activeReplicas": h.replicaCount(),
		"uptimeSeconds":  int(time.Since(h.started).Seconds()),
	})
}

func (h *HealthHandler) replicaCount() int {
	if h.replicas == nil {
		return 0
	}
	return h.replicas.ReplicaCount()
}

// Readiness handles GET /readiness: probes every dependency and answers 503
// when any is down.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("readiness: database down", zap.Error(err))
		checks["database"] = "down"
		ready = false
	} else {
		checks["database"] = "up"
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn("readiness: redis down", zap.Error(err))
			checks["redis"] = "down"
			ready = false
		} else {
			checks["redis"] = "up"
		}
	}

	if err := h.blobs.EnsureBucket(ctx, h.bucket); err != nil {
		h.log.Warn("readiness: blob store down", zap.Error(err))
		checks["blobStore"] = "down"
		ready = false
	} else {
		checks["blobStore"] = "up"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
