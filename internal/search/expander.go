package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/pkg/types"
)

const (
	// DefaultMaxExpansion caps related entries per search.
	DefaultMaxExpansion = 5

	// RelatedScore is the fixed score of every related entry.
	RelatedScore = 0.1

	// RelatedPrefix starts the snippet of every related entry.
	RelatedPrefix = "[related context] "

	defaultExpansionTop = 5
)

// Expander appends related chunks reached from the top results through
// every registered relation source. Sources are consulted together: a chunk
// reached by several keeps its best score and the union of linked nodes.
type Expander struct {
	resolver ChunkResolver
	sources  []storage.RelationSource
	top      int
	logger   *zap.Logger
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithExpanderLogger sets the logger.
func WithExpanderLogger(l *zap.Logger) ExpanderOption {
	return func(e *Expander) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTopResults sets how many leading results seed the expansion.
func WithTopResults(n int) ExpanderOption {
	return func(e *Expander) {
		if n > 0 {
			e.top = n
		}
	}
}

// NewExpander creates an expander over sources.
func NewExpander(resolver ChunkResolver, sources []storage.RelationSource, opts ...ExpanderOption) *Expander {
	e := &Expander{
		resolver: resolver,
		sources:  sources,
		top:      defaultExpansionTop,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sources returns the names of the registered relation sources.
func (e *Expander) Sources() []string {
	names := make([]string, 0, len(e.sources))
	for _, s := range e.sources {
		names = append(names, s.Name())
	}
	return names
}

type candidate struct {
	neighbor storage.Neighbor
	via      []string
}

// Expand returns results followed by up to maxExpansion related entries
// (DefaultMaxExpansion when maxExpansion <= 0). Seeds are the top results
// themselves plus the entities and link targets they mention. Related
// entries never duplicate a (path, start line) already present. A failing
// source is logged and skipped.
func (e *Expander) Expand(ctx context.Context, results []Result, maxExpansion int) []Result {
	if maxExpansion <= 0 {
		maxExpansion = DefaultMaxExpansion
	}
	if len(results) == 0 || len(e.sources) == 0 {
		return results
	}

	seenIDs := make(map[string]bool, len(results))
	seenLoc := make(map[string]bool, len(results))
	for i := range results {
		seenIDs[results[i].ChunkID] = true
		seenLoc[results[i].Location()] = true
	}

	var order []string
	cands := make(map[string]*candidate)
	for _, ref := range e.seeds(results) {
		for _, src := range e.sources {
			neighbors, err := src.Neighbors(ctx, ref)
			if err != nil {
				e.logger.Warn("relation source failed",
					zap.String("source", src.Name()),
					zap.String("ref", ref),
					zap.Error(err))
				continue
			}
			for _, nb := range neighbors {
				if seenIDs[nb.ChunkID] {
					continue
				}
				c, ok := cands[nb.ChunkID]
				if !ok {
					c = &candidate{neighbor: storage.Neighbor{ChunkID: nb.ChunkID}}
					cands[nb.ChunkID] = c
					order = append(order, nb.ChunkID)
				}
				if nb.Score > c.neighbor.Score {
					c.neighbor.Score = nb.Score
				}
				c.neighbor.LinkedNodes = mergeStrings(c.neighbor.LinkedNodes, nb.LinkedNodes)
				c.via = mergeStrings(c.via, []string{src.Name()})
			}
		}
	}
	if len(order) == 0 {
		return results
	}

	ranked := make([]*candidate, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, cands[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].neighbor.Score > ranked[j].neighbor.Score })

	var related []Result
	for _, c := range ranked {
		if len(related) >= maxExpansion {
			break
		}
		chunk, err := e.resolver.GetChunk(ctx, c.neighbor.ChunkID)
		if err != nil {
			continue
		}
		loc := types.LocationKey(chunk.Path, chunk.StartLine)
		if seenLoc[loc] {
			continue
		}
		seenLoc[loc] = true
		related = append(related, Result{
			ChunkID:     chunk.ID,
			Path:        chunk.Path,
			StartLine:   chunk.StartLine,
			EndLine:     chunk.EndLine,
			Score:       RelatedScore,
			Snippet:     RelatedPrefix + textutil.Snippet(chunk.Text, SnippetRunes),
			LinkedNodes: c.neighbor.LinkedNodes,
			Related:     true,
			Via:         c.via,
		})
	}
	if len(related) == 0 {
		return results
	}

	ids := make([]string, 0, len(related))
	for _, r := range related {
		ids = append(ids, r.ChunkID)
	}
	if metas, err := e.resolver.GetChunksMetadata(ctx, ids); err == nil {
		for i := range related {
			related[i].attach(metas[related[i].ChunkID])
		}
	} else {
		e.logger.Warn("related metadata unavailable", zap.Error(err))
	}

	out := make([]Result, 0, len(results)+len(related))
	out = append(out, results...)
	return append(out, related...)
}

// seeds lists expansion refs: the top chunk IDs, then the people, case,
// place and link targets they mention, deduplicated.
func (e *Expander) seeds(results []Result) []string {
	n := min(e.top, len(results))
	var refs []string
	for _, r := range results[:n] {
		refs = append(refs, r.ChunkID)
	}
	var names []string
	for _, r := range results[:n] {
		names = append(names, r.People...)
		if r.Case != "" {
			names = append(names, r.Case)
		}
		if r.Place != "" {
			names = append(names, r.Place)
		}
		names = append(names, r.OutgoingLinks...)
	}
	return append(refs, textutil.UniqueFold(names)...)
}
