// Package signal builds the mutation records sent to the remote graph.
package signal

import (
	"fmt"
	"strconv"
)

// Action names a graph mutation
type Action string

const (
	ActionNodeCreate     Action = "node_create"
	ActionNodeUpdate     Action = "node_update"
	ActionEdgeCreate     Action = "edge_create"
	ActionEdgeUpdate     Action = "edge_update"
	ActionEdgeDelete     Action = "edge_delete"
	ActionNodeTypeCreate Action = "nodetype_create"
	ActionEdgeTypeCreate Action = "edgetype_create"
)

// Signal is one node or edge mutation in the remote graph wire format.
// Which fields are set depends on Action:
//
//	node_create: Type, Name, Image?, Description?, Properties
//	node_update: ID or Type+Name, Properties, Prev
//	edge_create: Name, FromType, FromName, ToType, ToName, Properties?
//	edge_delete: Name, ID, From, To
//
// Acknowledged signals returned by the remote carry ID, and From/To for edges.
type Signal struct {
	Action      Action         `json:"action"`
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Name        string         `json:"name,omitempty"`
	Image       string         `json:"image,omitempty"`
	Description string         `json:"description,omitempty"`
	FromType    string         `json:"from_type,omitempty"`
	FromName    string         `json:"from_name,omitempty"`
	ToType      string         `json:"to_type,omitempty"`
	ToName      string         `json:"to_name,omitempty"`
	From        string         `json:"from,omitempty"`
	To          string         `json:"to,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Prev        *Prev          `json:"prev,omitempty"`
}

// Prev holds the property values a node_update replaces
type Prev struct {
	Properties map[string]any `json:"properties"`
}

// StringProperty returns a property as a string, or "" when absent.
// Remotes may echo ids as numbers, so those are formatted too.
func (s Signal) StringProperty(key string) string {
	return StringValue(s.Properties[key])
}

// StringValue formats a decoded property value. Numbers are written without
// exponent.
func StringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// TypeProperty declares a property on a node or edge type
type TypeProperty struct {
	Name      string `json:"name"`
	NameAlias string `json:"name_alias"`
}

// TypeSignal declares a node or edge type when a graph is created
type TypeSignal struct {
	Action     Action         `json:"action"`
	Name       string         `json:"name"`
	Directed   int            `json:"directed,omitempty"`
	Properties []TypeProperty `json:"properties"`
}
