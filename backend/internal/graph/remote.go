// Package graph talks to the remote graph that mirrors the workspace.
package graph

import (
	"context"

	"graphmirror/backend/internal/signal"
)

// Remote is a graph backend that accepts signals
type Remote interface {
	// Backend names the implementation, for logs and metrics
	Backend() string

	// CreateGraph creates an empty graph declaring the mirror's node and edge types
	CreateGraph(ctx context.Context) (string, error)

	// DownloadGraph returns every node and edge of a graph
	DownloadGraph(ctx context.Context, graphID string) (*GraphData, error)

	// SendSignals applies signals in order. A nil response means the backend
	// accepted the batch but reported no ids.
	SendSignals(ctx context.Context, graphID string, signals []signal.Signal) (*SignalsResponse, error)

	// Mentioners returns the platform ids of users whose messages mention the
	// user node userRemoteID, in first-seen order
	Mentioners(ctx context.Context, graphID, userRemoteID string) ([]string, error)

	// Mentioned returns the platform ids of users mentioned in messages sent by
	// the user node userRemoteID, in first-seen order
	Mentioned(ctx context.Context, graphID, userRemoteID string) ([]string, error)

	// GraphURL is where a person can browse the graph, or "" if there is no such place
	GraphURL(graphID string) string
}

// dedupe keeps the first occurrence of every non-empty id
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
