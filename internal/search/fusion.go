package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

// SnippetRunes bounds the snippet attached to each result.
const SnippetRunes = 240

// GraphHit is a chunk reached through a relation source.
type GraphHit struct {
	ChunkID     string
	Score       float64
	LinkedNodes []string
}

// ChunkResolver looks up chunks and metadata for hits that arrive without
// a location. *sqlite.Store satisfies it.
type ChunkResolver interface {
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)
	GetChunksMetadata(ctx context.Context, chunkIDs []string) (map[string]*types.ChunkMetadata, error)
}

// Result is one ranked chunk.
type Result struct {
	ChunkID   string  `json:"chunkId"`
	Path      string  `json:"path"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`

	Type          types.MemoryEntryType `json:"type,omitempty"`
	People        []string              `json:"people,omitempty"`
	Case          string                `json:"case,omitempty"`
	Place         string                `json:"place,omitempty"`
	Tags          []string              `json:"tags,omitempty"`
	Importance    int                   `json:"importance"`
	Domain        string                `json:"domain,omitempty"`
	Status        types.NodeStatus      `json:"status,omitempty"`
	LinkedNodes   []string              `json:"linkedNodes,omitempty"`
	OutgoingLinks []string              `json:"outgoingLinks,omitempty"`

	VectorScore *float64 `json:"vectorScore,omitempty"`
	BM25Score   *float64 `json:"bm25Score,omitempty"`
	GraphScore  *float64 `json:"graphScore,omitempty"`

	// Related marks context-expansion entries.
	Related bool `json:"related,omitempty"`

	// Via names the relation sources that produced a related entry.
	Via []string `json:"via,omitempty"`

	Metadata *types.ChunkMetadata `json:"-"`
}

// Location is the (path, start line) key of the result.
func (r *Result) Location() string {
	return types.LocationKey(r.Path, r.StartLine)
}

func (r *Result) attach(meta *types.ChunkMetadata) {
	if meta == nil {
		return
	}
	r.Metadata = meta
	r.Type = meta.Type
	r.People = meta.PeopleNames()
	r.Case = meta.CaseRef
	r.Place = meta.Place
	r.Tags = meta.Tags
	r.Importance = meta.Importance
	r.Domain = meta.Domain
	r.Status = meta.Status
	r.OutgoingLinks = meta.OutgoingLinks
	r.LinkedNodes = mergeStrings(r.LinkedNodes, meta.LinkedNodes)
}

// FuseInput carries the three raw hit lists of one query.
type FuseInput struct {
	Vector  []storage.VectorHit
	Lexical []storage.LexicalHit
	Graph   []GraphHit
	Weights types.SearchWeights
}

// Fuse merges the hit lists into one record per chunk scored
// wv·vector + wb·bm25 + wg·graph, where a missing signal counts as zero.
// Records without a path are resolved through resolver and dropped when
// the chunk no longer exists. The result is sorted by score, ties keeping
// first-seen order (vector, then lexical, then graph).
func Fuse(ctx context.Context, in FuseInput, resolver ChunkResolver) ([]Result, error) {
	var order []string
	byID := make(map[string]*Result)
	get := func(id string) *Result {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &Result{ChunkID: id}
		byID[id] = r
		order = append(order, id)
		return r
	}
	locate := func(r *Result, path string, start, end int, snippet string) {
		if r.Path == "" && path != "" {
			r.Path, r.StartLine, r.EndLine = path, start, end
		}
		if r.Snippet == "" && snippet != "" {
			r.Snippet = textutil.Snippet(snippet, SnippetRunes)
		}
	}

	for _, h := range in.Vector {
		if h.ChunkID == "" {
			continue
		}
		r := get(h.ChunkID)
		r.VectorScore = maxScore(r.VectorScore, h.Score)
		locate(r, h.Path, h.StartLine, h.EndLine, h.Snippet)
	}
	for _, h := range in.Lexical {
		if h.ChunkID == "" {
			continue
		}
		r := get(h.ChunkID)
		r.BM25Score = maxScore(r.BM25Score, h.Score)
		locate(r, h.Path, h.StartLine, h.EndLine, h.Snippet)
	}
	for _, h := range in.Graph {
		if h.ChunkID == "" {
			continue
		}
		r := get(h.ChunkID)
		r.GraphScore = maxScore(r.GraphScore, h.Score)
		r.LinkedNodes = mergeStrings(r.LinkedNodes, h.LinkedNodes)
	}
	if len(order) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		r := byID[id]
		if r.Path == "" || r.Snippet == "" {
			chunk, err := resolver.GetChunk(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve chunk %s: %w", id, err)
			}
			locate(r, chunk.Path, chunk.StartLine, chunk.EndLine, chunk.Text)
			if r.Path == "" {
				continue
			}
		}
		r.Score = in.Weights.Vector*value(r.VectorScore) +
			in.Weights.BM25*value(r.BM25Score) +
			in.Weights.Graph*value(r.GraphScore)
		results = append(results, *r)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ChunkID)
	}
	metas, err := resolver.GetChunksMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunk metadata: %w", err)
	}
	for i := range results {
		results[i].attach(metas[results[i].ChunkID])
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func maxScore(cur *float64, s float64) *float64 {
	if cur != nil && *cur >= s {
		return cur
	}
	return &s
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// mergeStrings appends the values of b missing from a.
func mergeStrings(a, b []string) []string {
	for _, v := range b {
		found := false
		for _, x := range a {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			a = append(a, v)
		}
	}
	return a
}
