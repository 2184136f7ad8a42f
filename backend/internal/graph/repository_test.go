package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphmirror/backend/internal/mirror"
	"graphmirror/backend/internal/signal"
	apperrors "graphmirror/backend/pkg/errors"
)

func TestValidateSignal(t *testing.T) {
	alice := mirror.User{ID: "U1", Name: "alice", RemoteID: "u-r"}
	general := mirror.Channel{ID: "C1", Name: "general", RemoteID: "c-r"}

	tests := []struct {
		name    string
		signal  signal.Signal
		wantErr bool
	}{
		{name: "user node", signal: signal.NewUser(alice)},
		{name: "membership", signal: signal.Membership(alice, general)},
		{name: "delete membership", signal: signal.DeleteMembership("e-1", alice, general)},
		{name: "remap by id", signal: signal.ChannelRemap(general, "C2")},
		{name: "message deleted", signal: signal.MessageDeleted("alice - 1", "2")},
		{name: "unknown label", signal: signal.Signal{Action: signal.ActionNodeCreate, Type: "Robot`) DETACH DELETE n //"}, wantErr: true},
		{name: "unknown relationship", signal: signal.Signal{Action: signal.ActionEdgeCreate, Name: "LIKES", FromType: "User", ToType: "User"}, wantErr: true},
		{name: "delete without id", signal: signal.Signal{Action: signal.ActionEdgeDelete, Name: "MEMBER_OF"}, wantErr: true},
		{name: "unknown action", signal: signal.Signal{Action: "graph_drop"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSignal(tt.signal)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`User`", quoteIdentifier("User"))
	assert.Equal(t, "`a``b`", quoteIdentifier("a`b"))
}

func TestNonNilProperties(t *testing.T) {
	out := nonNilProperties(map[string]any{"a": 1, "b": nil})
	assert.Equal(t, map[string]any{"a": 1}, out)
	assert.Empty(t, nonNilProperties(nil))
}

// TestRepository_RoundTrip requires a running Neo4j instance
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD environment variables
func TestRequestFailed_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"constraint violation", &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"}, false},
		{"syntax error", fmt.Errorf("failed to execute query: %w", &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}), false},
		{"not a leader", &neo4j.Neo4jError{Code: "Neo.ClientError.Cluster.NotALeader"}, true},
		{"deadlock", &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}, true},
		{"connection", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requestFailed("add signals", tt.err)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRepository_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not available: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, "")
	require.NoError(t, repo.EnsureSchema(ctx))
	graphID, err := repo.CreateGraph(ctx)
	require.NoError(t, err)

	// Clean up
	defer func() {
		session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)
		_, _ = session.Run(ctx, "MATCH (n {graph_id: $id}) DETACH DELETE n", map[string]interface{}{"id": graphID})
		_, _ = session.Run(ctx, "MATCH (g:Graph {id: $id}) DELETE g", map[string]interface{}{"id": graphID})
	}()

	alice := mirror.User{ID: "U1", Name: "alice"}
	bob := mirror.User{ID: "U2", Name: "bob"}
	general := mirror.Channel{ID: "C1", Name: "general"}
	msg := signal.MessageName(alice.Name, "1")

	resp, err := repo.SendSignals(ctx, graphID, []signal.Signal{
		signal.NewUser(alice),
		signal.NewUser(bob),
		signal.NewChannel(general),
		signal.Membership(alice, general),
		signal.MessageNode(msg, "hi <@U2>", "1", general.Name),
		signal.SentMessage(alice, msg),
		signal.MessageIn(msg, general),
		signal.Mentions(msg, bob),
	})
	require.NoError(t, err)
	require.Len(t, resp.Signals, 8)

	var aliceNode, bobNode string
	for _, s := range resp.Signals {
		if s.Action == signal.ActionNodeCreate && s.Name == "alice" {
			aliceNode = s.ID
		}
		if s.Action == signal.ActionNodeCreate && s.Name == "bob" {
			bobNode = s.ID
		}
	}
	require.NotEmpty(t, aliceNode)

	data, err := repo.DownloadGraph(ctx, graphID)
	require.NoError(t, err)
	assert.Len(t, data.Nodes, 4)
	assert.Len(t, data.Edges, 4)

	mentioners, err := repo.Mentioners(ctx, graphID, bobNode)
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, mentioners)

	mentioned, err := repo.Mentioned(ctx, graphID, aliceNode)
	require.NoError(t, err)
	assert.Equal(t, []string{"U2"}, mentioned)

	_, err = repo.DownloadGraph(ctx, "missing-"+graphID)
	assert.ErrorAs(t, err, &ErrGraphNotFound{})
}

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := getenv("NEO4J_URI", "bolt://localhost:7687")
	user := getenv("NEO4J_USER", "neo4j")
	password := getenv("NEO4J_PASSWORD", "password")

	return NewDriver(context.Background(), uri, user, password)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
