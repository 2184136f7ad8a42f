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

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graphmirror/backend/internal/api"
	"graphmirror/backend/internal/app"
	"graphmirror/backend/internal/discord"
	"graphmirror/backend/internal/observability"
	"graphmirror/backend/pkg/config"
	"graphmirror/backend/pkg/logger"
)

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
	log.Info("Starting Discord graph mirror...", zap.String("backend", cfg.GraphBackend))

	if err := cfg.ValidateBot(); err != nil {
		log.Fatal("Invalid bot configuration", zap.Error(err))
	}

	collector := observability.NewCollector("graphmirror")

	ctx := context.Background()
	remote, err := app.OpenRemote(ctx, cfg, collector)
	if err != nil {
		log.Fatal("Failed to open graph backend", zap.Error(err))
	}
	defer remote.Close()

	// Create Discord session
	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal("Failed to create Discord session", zap.Error(err))
	}
	dg.Identify.Intents = discord.Intents
	dg.State.TrackMembers = true
	dg.State.MaxMessageCount = 500

	platform := discord.NewPlatform(dg, dg.State, log)
	conn := app.NewConnector(remote, platform, app.ConnectorOptions(cfg, collector, log))

	if err := conn.Initialize(ctx); err != nil {
		log.Fatal("Failed to initialize remote graph", zap.Error(err))
	}
	log.Info("Remote graph ready",
		zap.String("graph_id", conn.GraphID()),
		zap.String("graph_url", conn.GraphURL()))

	handler := discord.NewHandler(conn, platform, cfg.DiscordGuildID, log)
	handler.Register(dg)

	// Open connection
	if err := dg.Open(); err != nil {
		log.Fatal("Failed to open Discord connection", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(conn, collector, log, api.WithBreakerState(remote.Breaker.State))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("Status server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	stopResync := make(chan struct{})
	if cfg.SyncInterval > 0 {
		go resyncLoop(dg.State, handler, cfg, stopResync, log)
	}

	log.Info("Discord graph mirror is running. Press CTRL-C to exit.")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Discord graph mirror...")
	close(stopResync)

	if err := dg.Close(); err != nil {
		log.Warn("Failed to close Discord session", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Let queued signals drain before stopping
	if err := conn.WaitIdle(shutdownCtx); err != nil {
		log.Warn("Queue did not drain before shutdown", zap.Any("stats", conn.QueueStats()))
	}
	if err := conn.Close(shutdownCtx); err != nil {
		log.Warn("Failed to stop queue", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Discord graph mirror exited")
}

// resyncLoop periodically runs a full pass over the mirrored guild
func resyncLoop(state *discordgo.State, handler *discord.Handler, cfg *config.Config, stop <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !guildReady(state, cfg.DiscordGuildID) {
				log.Debug("Skipping resync, guild not available", zap.String("guild_id", cfg.DiscordGuildID))
				continue
			}
			handler.Resync(state, cfg.DiscordGuildID)
		}
	}
}

// guildReady reports whether the state cache holds the guild and Discord
// marks it available
func guildReady(state *discordgo.State, guildID string) bool {
	g, err := state.Guild(guildID)
	return err == nil && !g.Unavailable
}
