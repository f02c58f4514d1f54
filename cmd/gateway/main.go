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
	"go.uber.org/zap"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/config"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/gateway"
	"github.com/zhanserikAmangeldi/apex-be/editor-service/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api-gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.IsProduction() && len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		return fmt.Errorf("ALLOWED_ORIGINS must be an explicit list in production")
	}

	logger.MustInit(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		ServiceName: "api-gateway",
	})
	defer logger.Sync()
	log := logger.Log

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	gw := gateway.New(gateway.Config{
		AuthServiceURL:   cfg.AuthServiceURL,
		EditorServiceURL: envOr("EDITOR_SERVICE_URL", "http://localhost:3001"),
		EditorWSURL:      envOr("EDITOR_WS_URL", "ws://localhost:1234"),
		JWTSecret:        []byte(cfg.JWTSecret),
		AllowedOrigins:   cfg.AllowedOrigins,
		RateLimitRPS:     cfg.RateLimitRPS,
		RateLimitBurst:   cfg.RateLimitBurst,
	}, log)

	srv := &http.Server{
		Addr:    ":" + envOr("GATEWAY_PORT", "8000"),
		Handler: gw.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
