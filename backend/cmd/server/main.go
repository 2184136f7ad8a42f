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

	"graphmirror/backend/internal/api"
	"graphmirror/backend/internal/app"
	"graphmirror/backend/internal/observability"
	"graphmirror/backend/pkg/config"
	apperrors "graphmirror/backend/pkg/errors"
	"graphmirror/backend/pkg/logger"
)

// errReadOnly is returned by the platform of the standalone API server, which
// is not connected to any workspace
var errReadOnly = errors.New("API server is not connected to a workspace")

// offlinePlatform stands in for a workspace connection
type offlinePlatform struct{}

func (offlinePlatform) FetchChannelMembers(_ context.Context, channelID string) ([]string, error) {
	return nil, apperrors.NewPlatformLookupFailed(channelID, errReadOnly)
}

func (offlinePlatform) Reply(_ context.Context, channelID, _ string) error {
	return apperrors.NewPlatformReplyFailed(channelID, errReadOnly)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.InitWithOptions(cfg.Env, logger.Options{File: cfg.LogFile}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	if cfg.GraphID == "" {
		log.Fatal("GRAPH_ID is required")
	}

	collector := observability.NewCollector("graphmirror")

	ctx := context.Background()
	remote, err := app.OpenRemote(ctx, cfg, collector)
	if err != nil {
		log.Fatal("Failed to open graph backend", zap.Error(err))
	}
	defer remote.Close()

	// Absorb the existing graph so user ids resolve to graph nodes
	conn := app.NewConnector(remote, offlinePlatform{}, app.ConnectorOptions(cfg, collector, log))
	if err := conn.Initialize(ctx); err != nil {
		log.Fatal("Failed to load remote graph", zap.String("graph_id", cfg.GraphID), zap.Error(err))
	}
	log.Info("Remote graph loaded",
		zap.String("graph_id", conn.GraphID()),
		zap.Int("users", conn.Store().Users.Len()),
		zap.Int("channels", conn.Store().Channels.Len()))

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(conn, collector, log, api.WithBreakerState(remote.Breaker.State))

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := conn.Close(shutdownCtx); err != nil {
		log.Warn("Failed to stop queue", zap.Error(err))
	}

	log.Info("Server exited")
}
