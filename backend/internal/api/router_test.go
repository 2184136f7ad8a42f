package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/observability"
	"graphmirror/backend/internal/queue"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
)

type fakeMirror struct {
	graphID  string
	store    *mirror.Store
	stats    queue.Stats
	dead     []queue.DeadLetter[[]signal.Signal]
	mentions map[string][]string
	err      error
}

func (f *fakeMirror) GraphID() string { return f.graphID }

func (f *fakeMirror) GraphURL() string {
	if f.graphID == "" {
		return ""
	}
	return "https://graphs.example/" + f.graphID
}

func (f *fakeMirror) Store() *mirror.Store     { return f.store }
func (f *fakeMirror) QueueStats() queue.Stats { return f.stats }

func (f *fakeMirror) DeadLetters() []queue.DeadLetter[[]signal.Signal] { return f.dead }

func (f *fakeMirror) MentionsFor(_ context.Context, userID string) ([]string, error) {
	return f.lookup(userID)
}

func (f *fakeMirror) MentionsBy(_ context.Context, userID string) ([]string, error) {
	return f.lookup("by:" + userID)
}

func (f *fakeMirror) lookup(key string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids, ok := f.mentions[key]
	if !ok {
		return nil, apperrors.NewStorageNotFound("users", key)
	}
	return ids, nil
}

func setupRouter(t *testing.T, m *fakeMirror) (*gin.Engine, *observability.Collector) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	collector := observability.NewCollector("test")
	return NewRouter(m, collector, nil), collector
}

func newFakeMirror() *fakeMirror {
	store := mirror.NewStore()
	_ = store.Users.Save(context.Background(), mirror.User{ID: "U1", Name: "a"})
	_ = store.Channels.Save(context.Background(), mirror.Channel{ID: "C1", Name: "g"})
	return &fakeMirror{
		graphID: "g-1",
		store:   store,
		stats:   queue.Stats{State: "running", Sent: 3},
		mentions: map[string][]string{
			"U1":    {"U2"},
			"by:U1": {},
		},
	}
}

func do(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupRouter(t, newFakeMirror())

	w := do(router, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestCORSPreflight(t *testing.T) {
	router, _ := setupRouter(t, newFakeMirror())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/api/status", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := setupRouter(t, newFakeMirror())

	w := do(router, "/api/status")

	require.Equal(t, http.StatusOK, w.Code)
	var response StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "g-1", response.GraphID)
	assert.Equal(t, "https://graphs.example/g-1", response.GraphURL)
	assert.Equal(t, 1, response.Users)
	assert.Equal(t, 1, response.Channels)
	assert.Equal(t, "running", response.Queue.State)
	assert.Equal(t, uint64(3), response.Queue.Sent)
}

func TestStatusEndpoint_BreakerState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(newFakeMirror(), nil, nil, WithBreakerState(func() string { return "open" }))

	w := do(router, "/api/status")

	require.Equal(t, http.StatusOK, w.Code)
	var response StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "open", response.Breaker)
	assert.Equal(t, http.StatusNotFound, do(router, "/metrics").Code)
}

func TestDeadLettersEndpoint(t *testing.T) {
	m := newFakeMirror()
	m.dead = []queue.DeadLetter[[]signal.Signal]{{
		ID:       "job-1",
		Job:      []signal.Signal{{}, {}},
		Attempts: 5,
		Err:      errors.New("bad request"),
		At:       time.Unix(1700000000, 0).UTC(),
	}}
	router, _ := setupRouter(t, m)

	w := do(router, "/api/queue/dead-letters")

	require.Equal(t, http.StatusOK, w.Code)
	var response []DeadLetterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response, 1)
	assert.Equal(t, "job-1", response[0].ID)
	assert.Equal(t, 2, response[0].Signals)
	assert.Equal(t, 5, response[0].Attempts)
	assert.Equal(t, "bad request", response[0].Error)
}

func TestMentionsEndpoints(t *testing.T) {
	router, _ := setupRouter(t, newFakeMirror())

	tests := []struct {
		name   string
		path   string
		status int
		users  []string
	}{
		{"mentions for user", "/api/users/U1/mentions/for", http.StatusOK, []string{"U2"}},
		{"mentions by user", "/api/users/U1/mentions/by", http.StatusOK, []string{}},
		{"unknown user", "/api/users/U404/mentions/for", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.path)
			require.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				return
			}
			var response MentionsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "U1", response.UserID)
			assert.Equal(t, tt.users, response.Users)
		})
	}
}

func TestMentionsEndpoint_Errors(t *testing.T) {
	m := newFakeMirror()
	router, _ := setupRouter(t, m)

	m.err = apperrors.ErrGraphNotInitialized
	assert.Equal(t, http.StatusServiceUnavailable, do(router, "/api/users/U1/mentions/for").Code)

	m.err = apperrors.NewGraphRequestFailed("mentions", 0, errors.New("timeout"))
	assert.Equal(t, http.StatusBadGateway, do(router, "/api/users/U1/mentions/by").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, collector := setupRouter(t, newFakeMirror())

	do(router, "/health")
	do(router, "/nowhere")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.HTTPRequests.WithLabelValues(http.MethodGet, "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.HTTPRequests.WithLabelValues(http.MethodGet, "unmatched", "404")))

	w := do(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_total"))
}
