// Package engine ties the classifier, the stores and fusion search into the
// operations exposed to tools: store, search, explore, stats and file
// indexing.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memento-graph/internal/search"
	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

// Config holds configuration for the engine.
type Config struct {
	// MaxResults is the default number of primary search results (default: 10).
	MaxResults int

	// CandidateLimit is how many hits each signal contributes before fusion (default: 50).
	CandidateLimit int

	// MaxExpansion caps related-context entries per search (default: 5).
	MaxExpansion int

	// EmbeddingTimeout bounds each call to the embedding service (default: 10s).
	EmbeddingTimeout time.Duration

	// EmbeddingCacheSize is the number of query embeddings kept (default: 256).
	EmbeddingCacheSize int

	// MemoryDir is the virtual directory of stored notes without a file (default: "memory").
	MemoryDir string

	// ChunkMaxTokens is the section size limit used when indexing files (default: 400).
	ChunkMaxTokens int

	Decay DecayConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxResults:         10,
		CandidateLimit:     50,
		MaxExpansion:       search.DefaultMaxExpansion,
		EmbeddingTimeout:   10 * time.Second,
		EmbeddingCacheSize: 256,
		MemoryDir:          "memory",
		ChunkMaxTokens:     400,
		Decay:              DefaultDecayConfig(),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.MaxResults < 1 || c.MaxResults > maxResultsLimit {
		return fmt.Errorf("MaxResults must be in 1-%d, got %d", maxResultsLimit, c.MaxResults)
	}
	if c.CandidateLimit < c.MaxResults {
		return fmt.Errorf("CandidateLimit must be >= MaxResults, got %d", c.CandidateLimit)
	}
	if c.MaxExpansion < 0 {
		return fmt.Errorf("MaxExpansion must be >= 0, got %d", c.MaxExpansion)
	}
	if c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("EmbeddingTimeout must be > 0, got %v", c.EmbeddingTimeout)
	}
	if c.EmbeddingCacheSize < 1 {
		return fmt.Errorf("EmbeddingCacheSize must be >= 1, got %d", c.EmbeddingCacheSize)
	}
	if c.MemoryDir == "" {
		return fmt.Errorf("MemoryDir is required")
	}
	if c.ChunkMaxTokens < 1 {
		return fmt.Errorf("ChunkMaxTokens must be >= 1, got %d", c.ChunkMaxTokens)
	}
	return nil
}

const maxResultsLimit = 100

// chunkNamespace scopes chunk IDs derived from locations.
var chunkNamespace = uuid.MustParse("3b9d4a52-6c1e-4f0b-9a57-1d2f8e6c0a11")

// ChunkID returns the stable ID of the chunk starting at startLine of path.
// Re-indexing a file therefore replaces chunks in place.
func ChunkID(path string, startLine int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(types.LocationKey(path, startLine))).String()
}

// StoreRequest is the input of StoreAdvanced.
type StoreRequest struct {
	Content string `json:"content" validate:"nonempty"`

	// Type overrides the classified entry type.
	Type string `json:"type,omitempty"`

	// Tags are added to the classified tags.
	Tags []string `json:"tags,omitempty"`

	// AutoClassify runs the classifier (default: true).
	AutoClassify *bool `json:"autoClassify,omitempty"`

	// File is the memory file the note belongs to (default: memory/<date>.md).
	File string `json:"file,omitempty"`

	Source string `json:"source,omitempty"`
}

// StoreResult summarises a stored note.
type StoreResult struct {
	ChunkID                string                `json:"chunkId"`
	Path                   string                `json:"path"`
	StartLine              int                   `json:"startLine"`
	EndLine                int                   `json:"endLine"`
	Type                   types.MemoryEntryType `json:"type"`
	Importance             int                   `json:"importance"`
	People                 []types.PersonRef     `json:"people"`
	Case                   string                `json:"case,omitempty"`
	Place                  string                `json:"place,omitempty"`
	Tags                   []string              `json:"tags"`
	Domain                 string                `json:"domain,omitempty"`
	Emotion                string                `json:"emotion,omitempty"`
	Status                 types.NodeStatus      `json:"status"`
	NodeIDs                []string              `json:"nodeIds"`
	EdgeIDs                []string              `json:"edgeIds"`
	NewEntities            []string              `json:"newEntities"`
	ClassificationFallback bool                  `json:"classificationFallback"`
	Embedded               bool                  `json:"embedded"`
}

// SearchRequest is the input of SearchAdvanced.
type SearchRequest struct {
	Query       string                  `json:"query" validate:"nonempty"`
	Filters     search.Filters          `json:"filters"`
	ExpandGraph *bool                   `json:"expandGraph,omitempty"`
	MaxResults  int                     `json:"maxResults,omitempty" validate:"gte=0,lte=100"`
	Weights     *search.WeightOverrides `json:"weights,omitempty"`

	// TrackAccess records an access on every primary result.
	TrackAccess bool `json:"trackAccess,omitempty"`
}

// SearchResponse is the ranked answer to a query. Failures are reported in
// Error with an empty result list.
type SearchResponse struct {
	QueryType types.QueryType     `json:"queryType"`
	Weights   types.SearchWeights `json:"weights"`
	Results   []search.Result     `json:"results"`
	Error     string              `json:"error,omitempty"`
}

// ExploreRequest is the input of Explore.
type ExploreRequest struct {
	Entity            string   `json:"entity" validate:"nonempty"`
	Depth             int      `json:"depth,omitempty" validate:"gte=0,lte=3"`
	RelationshipTypes []string `json:"relationshipTypes,omitempty"`
}

// ExploreResponse wraps ExploreGraph with a found flag.
type ExploreResponse struct {
	Found            bool                      `json:"found"`
	CenterNode       *types.GraphNode          `json:"centerNode,omitempty"`
	ConnectedNodes   []storage.ConnectedNode   `json:"connectedNodes,omitempty"`
	RelatedDocuments []storage.RelatedDocument `json:"relatedDocuments,omitempty"`
}
