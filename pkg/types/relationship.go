package types

import "time"

// DefaultEdgeWeight is used when an edge is created without a weight.
const DefaultEdgeWeight = 1.0

// GraphEdge is a typed, weighted connection between two nodes. The triple
// (FromNode, ToNode, Relationship) is unique; re-creating it updates weight
// and confidence.
type GraphEdge struct {
	ID           string     `json:"id"`
	FromNode     string     `json:"from_node"`
	ToNode       string     `json:"to_node"`
	Relationship string     `json:"relationship"`
	Weight       float64    `json:"weight"`
	Confidence   float64    `json:"confidence"`
	Properties   Properties `json:"properties,omitempty"`

	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	SourceMemory string `json:"source_memory,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touches reports whether the edge has nodeID at either end.
func (e *GraphEdge) Touches(nodeID string) bool {
	return e.FromNode == nodeID || e.ToNode == nodeID
}

// Other returns the node at the opposite end from nodeID.
func (e *GraphEdge) Other(nodeID string) string {
	if e.FromNode == nodeID {
		return e.ToNode
	}
	return e.FromNode
}
