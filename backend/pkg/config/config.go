package config

import (
	"fmt"
	"os"
	"time"

	apperrors "graphmirror/backend/pkg/errors"

	"github.com/joho/godotenv"
)

// Graph backends
const (
	BackendGraphCommons = "graphcommons"
	BackendNeo4j        = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// App
	Port    string
	Env     string
	LogFile string

	// Discord
	DiscordBotToken string
	DiscordGuildID  string // Guild mirrored into the graph, required by the bot

	// Remote graph
	GraphBackend string
	GraphID      string // Empty means "create a new graph on first start"
	GCRoot       string
	GCToken      string

	// Neo4j
	Neo4jURI        string
	Neo4jUser       string
	Neo4jPassword   string
	Neo4jBrowserURL string // Optional: where the graph can be browsed

	// Job queue
	QueueMaxAttempts    int
	QueueBackoff        time.Duration
	QueueMaxBackoff     time.Duration
	QueueAttemptTimeout time.Duration

	// Sync
	MemberLookupConcurrency int
	BreakerFailures         int
	SyncInterval            time.Duration // Zero disables periodic full passes
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		LogFile:                 getEnv("LOG_FILE", ""),
		DiscordBotToken:         getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordGuildID:          getEnv("DISCORD_GUILD_ID", ""),
		GraphBackend:            getEnv("GRAPH_BACKEND", BackendGraphCommons),
		GraphID:                 getEnv("GRAPH_ID", ""),
		GCRoot:                  getEnv("GC_ROOT", "https://graphcommons.com"),
		GCToken:                 getEnv("GC_TOKEN", ""),
		Neo4jURI:                getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:               getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:           getEnv("NEO4J_PASSWORD", "password"),
		Neo4jBrowserURL:         getEnv("NEO4J_BROWSER_URL", ""),
		QueueMaxAttempts:        getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueueBackoff:            getEnvMillis("QUEUE_BACKOFF_MS", 500),
		QueueMaxBackoff:         getEnvMillis("QUEUE_MAX_BACKOFF_MS", 30000),
		QueueAttemptTimeout:     getEnvMillis("QUEUE_ATTEMPT_TIMEOUT_MS", 15000),
		MemberLookupConcurrency: getEnvInt("MEMBER_LOOKUP_CONCURRENCY", 4),
		BreakerFailures:         getEnvInt("BREAKER_FAILURES", 5),
		SyncInterval:            time.Duration(getEnvInt("SYNC_INTERVAL_SECONDS", 900)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.GraphBackend {
	case BackendGraphCommons:
		if c.GCRoot == "" {
			return apperrors.NewConfigMissingRequired("GC_ROOT")
		}
		if c.GCToken == "" {
			return apperrors.NewConfigMissingRequired("GC_TOKEN")
		}
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
	default:
		return apperrors.NewConfigValidationFailed("GRAPH_BACKEND", fmt.Sprintf("unknown backend %q", c.GraphBackend))
	}
	if c.QueueMaxAttempts < 1 {
		return apperrors.NewConfigValidationFailed("QUEUE_MAX_ATTEMPTS", "must be at least 1")
	}
	if c.QueueBackoff <= 0 || c.QueueMaxBackoff < c.QueueBackoff {
		return apperrors.NewConfigValidationFailed("QUEUE_MAX_BACKOFF_MS", "must be >= QUEUE_BACKOFF_MS > 0")
	}
	if c.SyncInterval < 0 {
		return apperrors.NewConfigValidationFailed("SYNC_INTERVAL_SECONDS", "must not be negative")
	}
	if c.MemberLookupConcurrency < 1 {
		return apperrors.NewConfigValidationFailed("MEMBER_LOOKUP_CONCURRENCY", "must be at least 1")
	}
	return nil
}

// ValidateBot checks the settings the Discord bot needs on top of Validate.
// One bot mirrors exactly one guild into one graph.
func (c *Config) ValidateBot() error {
	if c.DiscordBotToken == "" {
		return apperrors.NewConfigMissingRequired("DISCORD_BOT_TOKEN")
	}
	if c.DiscordGuildID == "" {
		return apperrors.NewConfigMissingRequired("DISCORD_GUILD_ID")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
