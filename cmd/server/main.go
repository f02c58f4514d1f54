package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/acl"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/auth"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/blob"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/collab"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/compactor"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/config"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/handler"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/mailer"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/migration"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/storage"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/pkg/logger"
)

const (
	shutdownBudget    = 10 * time.Second
	backpressureLimit = 256
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "editor-service:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.MustInit(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		ServiceName: "editor-service",
	})
	defer logger.Sync()
	log := logger.Log

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dependencies, each probed with backoff so a compose stack can come up
	// in any order.
	db, err := connectDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := probe(ctx, "redis", log, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		return err
	}
	defer rdb.Close()

	blobs, err := blob.NewStore(blob.Connect(blob.Config{
		EndpointURL: cfg.MinioEndpoint(),
		Region:      cfg.MinioRegion,
		Username:    cfg.MinioUser,
		Password:    cfg.MinioPass,
	}))
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	for _, bucket := range []string{cfg.SnapshotBucket, cfg.AttachmentBucket} {
		if err := probe(ctx, "bucket "+bucket, log, func(ctx context.Context) error {
			return blobs.EnsureBucket(ctx, bucket)
		}); err != nil {
			return err
		}
	}

	if err := migration.AutoMigrate(cfg.DBUrl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("migrations applied")

	// Storage and policy.
	logs := storage.NewLogStore(db)
	snaps := storage.NewSnapshotStore(db, blobs, cfg.SnapshotBucket, cfg.SnapshotSizeLimit)
	docs := storage.NewDocumentRepository(db)
	vaults := storage.NewVaultRepository(db)
	perms := storage.NewPermissionRepository(db)
	attachments := storage.NewAttachmentRepository(db)
	oracle := acl.NewOracle(docs, perms)

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:         []byte(cfg.JWTSecret),
		AuthServiceURL: cfg.AuthServiceURL,
	}, rdb)
	if err != nil {
		return err
	}

	// Session layer.
	settings := collab.Settings{
		Debounce:          cfg.Debounce,
		MaxDebounce:       cfg.MaxDebounce,
		IdleTTL:           cfg.IdleTTL,
		SessionTimeout:    cfg.SessionTimeout,
		SnapshotThreshold: cfg.SnapshotThreshold,
		BackpressureLimit: backpressureLimit,
	}
	registry := collab.NewRegistry(logs, snaps, settings, logger.WithModule("collab"))
	collabServer := collab.NewServer(registry, verifier, oracle, settings, cfg.AllowedOrigins, logger.WithModule("session"))

	worker := compactor.NewWorker(logs, snaps, registry, rdb, compactor.Config{
		Interval:  cfg.WorkerInterval,
		Threshold: cfg.SnapshotThreshold,
	}, logger.WithModule("compactor"))

	var notifier handler.ShareNotifier
	if cfg.SMTPUser != "" {
		notifier = &mailer.SMTPMailer{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			User:    cfg.SMTPUser,
			Pass:    cfg.SMTPPass,
			From:    cfg.SMTPFrom,
			BaseURL: cfg.BaseURL,
			Render:  mailer.NewTemplateRender("templates"),
		}
	}

	restRouter := handler.NewRouter(handler.Deps{
		Documents:      handler.NewDocumentHandler(docs, logs, snaps, perms, oracle, logger.WithModule("documents")),
		Vaults:         handler.NewVaultHandler(vaults, docs, perms, notifier, logger.WithModule("vaults")),
		Attachments:    handler.NewAttachmentHandler(attachments, blobs, oracle, cfg.AttachmentBucket, logger.WithModule("attachments")),
		Health:         handler.NewHealthHandler(db, rdb, blobs, cfg.SnapshotBucket, worker, registry, logger.WithModule("health")),
		Verifier:       verifier,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery())
	wsRouter.GET("/:documentId", collabServer.HandleDocument)

	restSrv := &http.Server{Addr: ":" + cfg.Port, Handler: restRouter}
	wsSrv := &http.Server{Addr: ":" + cfg.WSPort, Handler: wsRouter}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		log.Info("control plane listening", zap.String("addr", restSrv.Addr))
		if err := restSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		log.Info("realtime listening", zap.String("addr", wsSrv.Addr))
		if err := wsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ws server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		err := worker.Run(grpCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Shutdown: stop accepting, drain the replicas, then let the servers go.
	grp.Go(func() error {
		<-grpCtx.Done()
		log.Info("shutting down")

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
		defer cancel()

		_ = wsSrv.Shutdown(drainCtx)
		if err := registry.Shutdown(drainCtx); err != nil {
			log.Warn("replica drain incomplete", zap.Error(err))
		}
		_ = restSrv.Shutdown(drainCtx)
		return nil
	})

	err = grp.Wait()
	log.Info("stopped")
	return err
}

func connectDB(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db pool: %w", err)
	}
	if err := probe(ctx, "postgres", log, db.Ping); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// probe retries a dependency check with Fibonacci backoff for up to a minute.
func probe(ctx context.Context, name string, log *zap.Logger, fn func(context.Context) error) error {
	backoff := retry.WithMaxDuration(time.Minute, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			log.Warn("dependency not ready", zap.String("dependency", name), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s unavailable: %w", name, err)
	}
	log.Info("dependency ready", zap.String("dependency", name))
	return nil
}
