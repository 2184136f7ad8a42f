package graph

import (
	"fmt"

	"graphmirror/backend/internal/signal"
)

// ============================================================================
// Remote Graph Types
// ============================================================================

// Node is a vertex of a downloaded graph
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed relation of a downloaded graph. Name is the edge type.
type Edge struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphData is a full remote graph
type GraphData struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// SignalsResponse carries the signals the remote applied, with assigned ids
type SignalsResponse struct {
	Signals []signal.Signal `json:"signals"`
}

// StringProperty returns a node property as a string. Numeric ids are
// formatted without exponent.
func (n Node) StringProperty(key string) string {
	return signal.StringValue(n.Properties[key])
}

// ErrGraphNotFound is returned when a graph id is unknown to the backend
type ErrGraphNotFound struct {
	GraphID string
}

func (e ErrGraphNotFound) Error() string {
	return fmt.Sprintf("graph not found: %s", e.GraphID)
}
