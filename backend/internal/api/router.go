// Package api serves the mirror's HTTP surface: health, metrics, sync status
// and mention queries.
package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/queue"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
)

// Mirror is the read side of the sync connector
type Mirror interface {
	GraphID() string
	GraphURL() string
	Store() *mirror.Store
	QueueStats() queue.Stats
	DeadLetters() []queue.DeadLetter[[]signal.Signal]
	MentionsFor(ctx context.Context, userID string) ([]string, error)
	MentionsBy(ctx context.Context, userID string) ([]string, error)
}

// Metrics records HTTP traffic and exposes the scrape endpoint
type Metrics interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
	Handler() http.Handler
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	GraphID  string      `json:"graph_id"`
	GraphURL string      `json:"graph_url,omitempty"`
	Users    int         `json:"users"`
	Channels int         `json:"channels"`
	Queue    queue.Stats `json:"queue"`
	Breaker  string      `json:"breaker,omitempty"`
}

// DeadLetterResponse describes a job the queue gave up on
type DeadLetterResponse struct {
	ID       string    `json:"id"`
	Signals  int       `json:"signals"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// MentionsResponse is the body of the mention query endpoints
type MentionsResponse struct {
	UserID string   `json:"user_id"`
	Users  []string `json:"users"`
}

// Option configures the router
type Option func(*options)

type options struct {
	breakerState func() string
}

// WithBreakerState reports the remote circuit breaker in /api/status
func WithBreakerState(fn func() string) Option {
	return func(o *options) {
		o.breakerState = fn
	}
}

// NewRouter builds the gin engine. metrics may be nil.
func NewRouter(m Mirror, metrics Metrics, log *zap.Logger, opts ...Option) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors())
	if metrics != nil {
		router.Use(ginMetrics(metrics))
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/status", func(c *gin.Context) {
			store := m.Store()
			status := StatusResponse{
				GraphID:  m.GraphID(),
				GraphURL: m.GraphURL(),
				Users:    store.Users.Len(),
				Channels: store.Channels.Len(),
				Queue:    m.QueueStats(),
			}
			if o.breakerState != nil {
				status.Breaker = o.breakerState()
			}
			c.JSON(http.StatusOK, status)
		})

		api.GET("/queue/dead-letters", func(c *gin.Context) {
			dead := m.DeadLetters()
			out := make([]DeadLetterResponse, 0, len(dead))
			for _, d := range dead {
				out = append(out, DeadLetterResponse{
					ID:       d.ID,
					Signals:  len(d.Job),
					Attempts: d.Attempts,
					Error:    d.Err.Error(),
					At:       d.At,
				})
			}
			c.JSON(http.StatusOK, out)
		})

		api.GET("/users/:id/mentions/for", mentionsHandler(log, m.MentionsFor))
		api.GET("/users/:id/mentions/by", mentionsHandler(log, m.MentionsBy))
	}

	return router
}

func mentionsHandler(log *zap.Logger, query func(context.Context, string) ([]string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		users, err := query(c.Request.Context(), userID)
		if err != nil {
			switch {
			case apperrors.IsNotFound(err):
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			case stderrors.Is(err, apperrors.ErrGraphNotInitialized):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Graph not initialized"})
			default:
				log.Error("Failed to query mentions", zap.String("user_id", userID), zap.Error(err))
				c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to query graph"})
			}
			return
		}

		c.JSON(http.StatusOK, MentionsResponse{UserID: userID, Users: users})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// cors allows the status endpoints to be read from a browser dashboard
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ginMetrics records every request under its route template
func ginMetrics(metrics Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
