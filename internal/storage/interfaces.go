// Package storage provides composable storage interfaces for the memento-graph
// engine.
//
// The storage layer is split into small, focused interfaces: the entity
// graph, the chunk metadata store, the link/backlink view and the vector
// index. Backends implement whichever subset they support and callers
// depend only on what they use.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/memento-graph/pkg/types"
)

// GraphStore owns the lifecycle of nodes, edges and tags.
type GraphStore interface {
	// UpsertNode creates a node or merges into the existing (name, type) row.
	// Identity fields are never changed; the stored node is returned.
	UpsertNode(ctx context.Context, node *types.GraphNode) (*types.GraphNode, error)

	// UpsertEdge creates an edge or updates weight and confidence of the
	// existing (from, to, relationship) row.
	UpsertEdge(ctx context.Context, edge *types.GraphEdge) (*types.GraphEdge, error)

	// GetNode returns ErrNotFound when the node does not exist.
	GetNode(ctx context.Context, id string) (*types.GraphNode, error)

	// FindNodeByName matches name case-insensitively. When nodeType is nil
	// and several types share the name, the most important node wins.
	// Returns ErrNotFound when nothing matches.
	FindNodeByName(ctx context.Context, name string, nodeType *types.NodeType) (*types.GraphNode, error)

	// SearchNodes lists nodes matching every set filter field.
	SearchNodes(ctx context.Context, filter NodeFilter) ([]types.GraphNode, error)

	// DeleteNode removes the node and every edge touching it.
	DeleteNode(ctx context.Context, id string) error

	// GetEdgesForNode lists edges around a node.
	GetEdgesForNode(ctx context.Context, id string, query EdgeQuery) ([]types.GraphEdge, error)

	// EnsureTag registers tag text, incrementing its usage count on reuse.
	EnsureTag(ctx context.Context, tag, category string) (*types.Tag, error)

	// TagNode attaches a tag to a node, registering the tag if needed.
	TagNode(ctx context.Context, nodeID, tag string) error

	// GetNodeTags lists the tags attached to a node.
	GetNodeTags(ctx context.Context, nodeID string) ([]types.Tag, error)

	// GetPopularTags lists tags by usage count, highest first.
	GetPopularTags(ctx context.Context, limit int) ([]types.Tag, error)

	// ExploreGraph walks outward from the named entity. It returns nil, nil
	// when the entity is unknown.
	ExploreGraph(ctx context.Context, name string, opts ExploreOptions) (*ExploreResult, error)
}

// ChunkStore owns chunk records and their classification metadata.
type ChunkStore interface {
	// UpsertChunk writes a chunk, replacing any chunk with the same ID.
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error

	// UpsertChunkMetadata replaces the metadata record keyed by chunk ID.
	UpsertChunkMetadata(ctx context.Context, meta *types.ChunkMetadata) error

	// IndexChunk writes a chunk and its metadata in one transaction.
	IndexChunk(ctx context.Context, chunk *types.Chunk, meta *types.ChunkMetadata) error

	// GetChunk returns ErrNotFound when the chunk does not exist.
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)

	// GetChunkMetadata returns ErrNotFound when no metadata exists.
	GetChunkMetadata(ctx context.Context, chunkID string) (*types.ChunkMetadata, error)

	// GetChunksMetadata returns the metadata of every listed chunk that has one.
	GetChunksMetadata(ctx context.Context, chunkIDs []string) (map[string]*types.ChunkMetadata, error)

	// GetTagsForChunk lists the tags recorded in a chunk's metadata.
	GetTagsForChunk(ctx context.Context, chunkID string) ([]string, error)

	// DeleteChunksForPath removes chunks of path whose IDs are not in keep
	// and returns the removed IDs.
	DeleteChunksForPath(ctx context.Context, path string, keep []string) ([]string, error)

	// NextStartLine returns the line after the last chunk stored for path.
	NextStartLine(ctx context.Context, path string) (int, error)

	// RecordAccess bumps access counters used by time decay.
	RecordAccess(ctx context.Context, chunkIDs []string, at time.Time) error

	// LexicalSearch ranks chunks by BM25 relevance to query.
	LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalHit, error)
}

// LinkStore is the link-derived graph view over chunk metadata.
type LinkStore interface {
	// FindBacklinks lists chunks referencing entityName, newest first.
	FindBacklinks(ctx context.Context, entityName string) ([]types.Chunk, error)

	// FindOutgoingLinks returns the union of link targets declared in file.
	FindOutgoingLinks(ctx context.Context, file string) ([]string, error)

	// FindCoOccurringPeople tallies people mentioned alongside personName.
	FindCoOccurringPeople(ctx context.Context, personName string) ([]PersonCount, error)

	// ExpandViaLinks follows outgoing links of chunkIDs one hop.
	ExpandViaLinks(ctx context.Context, chunkIDs []string, maxExpanded int) ([]types.Chunk, error)
}

// VectorIndex stores chunk embeddings and ranks them against a query vector.
type VectorIndex interface {
	StoreEmbedding(ctx context.Context, chunkID string, embedding []float64, model string) error
	VectorSearch(ctx context.Context, query []float64, limit int) ([]VectorHit, error)
}

// VectorDeleter is implemented by vector indexes that live outside the
// chunk store and must be told when chunks go away.
type VectorDeleter interface {
	DeleteEmbeddings(ctx context.Context, chunkIDs []string) error
}

// StatsProvider summarises a store.
type StatsProvider interface {
	Stats(ctx context.Context, topN int) (*Stats, error)
}

// RelationSource answers "which chunks relate to this entity or chunk?".
// ref is either an entity name or a chunk ID. Implementations decide how
// relatedness is derived and score each neighbour in 0-1.
type RelationSource interface {
	// Name identifies the source in logs and results.
	Name() string

	// Neighbors returns chunks related to ref. Unknown refs yield no
	// neighbours and no error.
	Neighbors(ctx context.Context, ref string) ([]Neighbor, error)
}
