package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmirror/backend/internal/graph"
	"graphmirror/backend/internal/observability"
	"graphmirror/backend/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		GraphBackend:            config.BackendGraphCommons,
		GraphID:                 "g-1",
		GCRoot:                  "https://graphs.example",
		GCToken:                 "token",
		QueueMaxAttempts:        3,
		QueueBackoff:            10 * time.Millisecond,
		QueueMaxBackoff:         time.Second,
		QueueAttemptTimeout:     time.Second,
		MemberLookupConcurrency: 2,
		BreakerFailures:         7,
	}
}

func TestOpenRemote_GraphCommons(t *testing.T) {
	remote, err := OpenRemote(context.Background(), testConfig(), observability.NewCollector("test"))
	require.NoError(t, err)
	defer remote.Close()

	assert.Equal(t, graph.BackendGraphCommons, remote.Backend())
	assert.Equal(t, "closed", remote.Breaker.State())
	assert.NoError(t, remote.Close())
}

func TestOpenRemote_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.GraphBackend = "memory"

	_, err := OpenRemote(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestConnectorOptions(t *testing.T) {
	collector := observability.NewCollector("test")
	opts := ConnectorOptions(testConfig(), collector, nil)

	assert.Equal(t, "g-1", opts.GraphID)
	assert.Equal(t, 3, opts.Policy.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, opts.Policy.Backoff)
	assert.Equal(t, time.Second, opts.Policy.MaxBackoff)
	assert.Equal(t, 2, opts.LookupConcurrency)
	assert.NotNil(t, opts.Observer)
	assert.NotNil(t, opts.Recorder)

	bare := ConnectorOptions(testConfig(), nil, nil)
	assert.Nil(t, bare.Observer)
	assert.Nil(t, bare.Recorder)
}
