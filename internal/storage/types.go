package storage

import (
	"errors"
	"time"

	"github.com/scrypster/memento-graph/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGraphBoundsExceeded indicates that graph traversal exceeded bounds.
	ErrGraphBoundsExceeded = errors.New("graph bounds exceeded")
)

// NodeFilter narrows SearchNodes. Zero-valued fields do not filter.
type NodeFilter struct {
	// Type restricts results to one node type.
	Type *types.NodeType

	// NamePattern is a case-insensitive substring of the node name.
	NamePattern string

	// MinImportance excludes nodes below this importance.
	MinImportance int

	// Limit caps the number of nodes returned (default: 50, max: 500).
	Limit int
}

// Normalize applies defaults and bounds to the filter.
func (f *NodeFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.MinImportance < 0 {
		f.MinImportance = 0
	}
}

// EdgeQuery selects edges around a node.
type EdgeQuery struct {
	// Direction is in, out or both (default: both).
	Direction types.Direction

	// RelationshipTypes restricts edges to these labels when non-empty.
	RelationshipTypes []string
}

// Normalize applies defaults to the query.
func (q *EdgeQuery) Normalize() {
	if q.Direction != types.DirectionIn && q.Direction != types.DirectionOut {
		q.Direction = types.DirectionBoth
	}
}

// ExploreOptions controls ExploreGraph.
type ExploreOptions struct {
	// Depth is the number of hops from the center node (clamped to 1-3, default 2).
	Depth int

	// RelationshipTypes restricts traversal to these labels when non-empty.
	RelationshipTypes []string

	// Bounds caps the traversal. Zero values take the GraphBounds defaults.
	Bounds GraphBounds
}

// MaxExploreDepth is the deepest traversal ExploreGraph performs.
const MaxExploreDepth = 3

// Normalize clamps Depth and normalizes Bounds.
func (o *ExploreOptions) Normalize() {
	if o.Depth <= 0 {
		o.Depth = 2
	}
	if o.Depth > MaxExploreDepth {
		o.Depth = MaxExploreDepth
	}
	o.Bounds.MaxHops = o.Depth
	o.Bounds.Normalize()
}

// ConnectedNode is a node reached during exploration.
type ConnectedNode struct {
	Node         types.GraphNode `json:"node"`
	Relationship string          `json:"relationship"`
	Direction    types.Direction `json:"direction"`
	Depth        int             `json:"depth"`
	Via          string          `json:"via"` // ID of the node it was reached from
}

// RelatedDocument is a chunk whose linked nodes include a reached node.
type RelatedDocument struct {
	ChunkID    string                `json:"chunkId"`
	Path       string                `json:"path"`
	StartLine  int                   `json:"startLine"`
	EndLine    int                   `json:"endLine"`
	Type       types.MemoryEntryType `json:"type"`
	Importance int                   `json:"importance"`
	Snippet    string                `json:"snippet"`
	NodeIDs    []string              `json:"nodeIds"`
}

// ExploreResult is the neighbourhood of a named entity.
type ExploreResult struct {
	CenterNode       types.GraphNode   `json:"center_node"`
	ConnectedNodes   []ConnectedNode   `json:"connected_nodes"`
	RelatedDocuments []RelatedDocument `json:"related_documents"`
}

// PersonCount is a co-occurrence tally.
type PersonCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LexicalHit is a chunk matched by full-text search.
type LexicalHit struct {
	ChunkID   string
	Path      string
	StartLine int
	EndLine   int
	Snippet   string
	Score     float64 // normalized to 0-1, higher is better
}

// VectorHit is a chunk matched by embedding similarity.
type VectorHit struct {
	ChunkID   string
	Path      string
	StartLine int
	EndLine   int
	Snippet   string
	Score     float64 // cosine similarity
}

// Neighbor is a chunk reached through a RelationSource.
type Neighbor struct {
	ChunkID     string
	Score       float64
	LinkedNodes []string
}

// Stats summarises a store.
type Stats struct {
	Nodes          int            `json:"nodes"`
	Edges          int            `json:"edges"`
	Chunks         int            `json:"chunks"`
	Files          int            `json:"files"`
	Tags           int            `json:"tags"`
	NodesByType    map[string]int `json:"nodes_by_type"`
	ChunksByType   map[string]int `json:"chunks_by_type"`
	ChunksByDomain map[string]int `json:"chunks_by_domain"`
	TopConnected   []NodeDegree   `json:"top_connected"`
	PopularTags    []types.Tag    `json:"popular_tags"`
}

// NodeDegree counts the edges touching a node.
type NodeDegree struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   types.NodeType `json:"type"`
	Degree int            `json:"degree"`
}

// GraphBounds prevents combinatorial explosion during graph traversal.
type GraphBounds struct {
	// MaxHops is the maximum number of hops from the starting node.
	MaxHops int

	// MaxNodes is the maximum number of nodes to return.
	MaxNodes int

	// MaxEdges is the maximum number of edges to traverse.
	MaxEdges int

	// Timeout is the maximum duration for the traversal operation.
	Timeout time.Duration
}

// Normalize applies defaults and validates the GraphBounds.
func (g *GraphBounds) Normalize() {
	if g.MaxHops < 1 {
		g.MaxHops = 2
	}
	if g.MaxHops > MaxExploreDepth {
		g.MaxHops = MaxExploreDepth
	}
	if g.MaxNodes < 1 {
		g.MaxNodes = 200
	}
	if g.MaxNodes > 2000 {
		g.MaxNodes = 2000
	}
	if g.MaxEdges < 1 {
		g.MaxEdges = 1000
	}
	if g.MaxEdges > 10000 {
		g.MaxEdges = 10000
	}
	if g.Timeout <= 0 {
		g.Timeout = 5 * time.Second
	}
}
