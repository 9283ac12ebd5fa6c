package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/classify"
	"github.com/scrypster/memento-graph/internal/importer"
	"github.com/scrypster/memento-graph/internal/llm"
	"github.com/scrypster/memento-graph/internal/search"
	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/storage/sqlite"
	"github.com/scrypster/memento-graph/internal/textutil"
	"github.com/scrypster/memento-graph/internal/validation"
	"github.com/scrypster/memento-graph/pkg/types"
)

// Engine is the core orchestrator. Writes classify the text, upsert the
// extracted entities and relationships, and index the chunk with its
// metadata. Searches fuse vector, lexical and graph signals.
type Engine struct {
	config Config

	// Storage layer
	store   *sqlite.Store
	vectors storage.VectorIndex

	// Classification
	classifier *classify.Classifier
	fallback   *classify.LLMFallback

	// Search
	embedder   llm.EmbeddingGenerator
	embedCache *lru.Cache[string, []float64]
	queries    *search.QueryClassifier
	relations  []storage.RelationSource
	expander   *search.Expander

	chunker importer.Chunker

	// writeMu serialises start-line allocation with the write that uses it.
	writeMu sync.Mutex

	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEmbedder enables vector search and embedding on write.
func WithEmbedder(g llm.EmbeddingGenerator) Option {
	return func(e *Engine) { e.embedder = g }
}

// WithVectorIndex stores and searches embeddings somewhere other than the
// sqlite store, for example postgres with pgvector.
func WithVectorIndex(v storage.VectorIndex) Option {
	return func(e *Engine) {
		if v != nil {
			e.vectors = v
		}
	}
}

// WithLLMFallback refines classifications that matched no rule.
func WithLLMFallback(f *classify.LLMFallback) Option {
	return func(e *Engine) { e.fallback = f }
}

// WithObserver reports activity to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRelationSources replaces the graph and link relation sources used for
// graph hits and context expansion.
func WithRelationSources(sources ...storage.RelationSource) Option {
	return func(e *Engine) {
		if len(sources) > 0 {
			e.relations = sources
		}
	}
}

// New creates an engine over store. Known entity names are loaded so the
// query classifier recognises them immediately.
func New(store *sqlite.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	e := &Engine{
		config:     DefaultConfig(),
		store:      store,
		vectors:    store,
		classifier: classify.New(),
		queries:    search.NewQueryClassifier(),
		relations:  []storage.RelationSource{sqlite.NewGraphRelations(store), sqlite.NewLinkRelations(store)},
		logger:     zap.NewNop(),
		observer:   nopObserver{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cache, err := lru.New[string, []float64](e.config.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	e.embedCache = cache
	e.chunker = importer.Chunker{MaxTokens: e.config.ChunkMaxTokens}
	e.expander = search.NewExpander(store, e.relations, search.WithExpanderLogger(e.logger))

	if err := e.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Store returns the underlying store.
func (e *Engine) Store() *sqlite.Store {
	return e.store
}

// Refresh reloads the entity names known to the query classifier and drops
// cached query embeddings. Call it after another process wrote to the store.
func (e *Engine) Refresh(ctx context.Context) error {
	names, err := e.store.NodeNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	e.queries.RegisterEntities(names...)
	e.embedCache.Purge()
	return nil
}

// Close closes the store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// StoreAdvanced classifies content, links its entities into the graph and
// indexes it as one chunk appended to the target memory file. Nothing is
// written to disk; the file is the virtual location of the chunk.
func (e *Engine) StoreAdvanced(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	var entryType types.MemoryEntryType
	if req.Type != "" {
		if entryType = types.ParseEntryType(req.Type); entryType == types.EntryUnknown {
			return nil, fmt.Errorf("%w: unknown type %q", storage.ErrInvalidInput, req.Type)
		}
	}

	now := e.now()
	file := e.memoryFile(req.File, now)
	content := textutil.NormalizeText(req.Content)

	var res *types.ClassificationResult
	if req.AutoClassify == nil || *req.AutoClassify {
		res = e.classify(ctx, content, nil, now)
	} else {
		res = types.DefaultClassification()
	}
	if entryType != "" {
		res.Type = entryType
	}
	res.Tags = textutil.UniqueFold(append(res.Tags, req.Tags...))

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start, err := e.store.NextStartLine(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate lines in %s: %w", file, err)
	}
	chunk := &types.Chunk{
		ID:        ChunkID(file, start),
		Path:      file,
		Source:    req.Source,
		StartLine: start,
		EndLine:   start + strings.Count(content, "\n"),
		Text:      content,
		Hash:      sqlite.ContentHash(content),
	}

	result, err := e.persist(ctx, chunk, res, now)
	if err != nil {
		return nil, err
	}
	e.logger.Info("memory stored",
		zap.String("chunk_id", chunk.ID),
		zap.String("path", file),
		zap.String("type", string(res.Type)),
		zap.Int("nodes", len(result.NodeIDs)),
		zap.Int("edges", len(result.EdgeIDs)),
		zap.Bool("fallback", res.Fallback))
	return result, nil
}

func (e *Engine) memoryFile(file string, now time.Time) string {
	if f := strings.TrimSpace(file); f != "" {
		return path.Clean(filepath.ToSlash(f))
	}
	return path.Join(e.config.MemoryDir, now.Format("2006-01-02")+".md")
}

func (e *Engine) classify(ctx context.Context, text string, fm map[string]interface{}, now time.Time) *types.ClassificationResult {
	known := nodeIndex{ctx: ctx, store: e.store}
	res := e.classifier.Classify(classify.Input{Text: text, Frontmatter: fm, Now: now, Known: known})
	if e.fallback != nil {
		res = e.fallback.Refine(ctx, text, res, known)
	}
	return res
}

// persist upserts the entities and relationships of res, then writes the
// chunk and its metadata. The chunk is embedded last; an embedding failure
// leaves the chunk searchable lexically and through the graph.
func (e *Engine) persist(ctx context.Context, chunk *types.Chunk, res *types.ClassificationResult, now time.Time) (*StoreResult, error) {
	out := &StoreResult{
		ChunkID:                chunk.ID,
		Path:                   chunk.Path,
		StartLine:              chunk.StartLine,
		EndLine:                chunk.EndLine,
		Type:                   res.Type,
		Importance:             res.Importance,
		People:                 res.People,
		Case:                   res.CaseRef,
		Place:                  res.Place,
		Tags:                   res.Tags,
		Domain:                 res.Domain,
		Emotion:                res.Emotion,
		Status:                 res.Status,
		NodeIDs:                []string{},
		EdgeIDs:                []string{},
		NewEntities:            []string{},
		ClassificationFallback: res.Fallback,
	}
	if out.People == nil {
		out.People = []types.PersonRef{}
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}

	ids := make(map[string]string, len(res.Entities))
	for _, ent := range res.Entities {
		node := &types.GraphNode{
			Name:       ent.Name,
			Type:       ent.Type,
			Importance: res.Importance,
			Status:     res.Status,
			MemoryFile: chunk.Path,
			Source:     chunk.Source,
			Tags:       res.Tags,
			ValidFrom:  res.OccurredAt,
		}
		if ent.Identifier != "" {
			node.Properties = types.Properties{"identifier": types.StringValue(ent.Identifier)}
		}
		stored, err := e.store.UpsertNode(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert %s %q: %w", ent.Type, ent.Name, err)
		}
		ids[entityKey(ent.Name, ent.Type)] = stored.ID
		out.NodeIDs = append(out.NodeIDs, stored.ID)
		if ent.IsNew {
			out.NewEntities = append(out.NewEntities, ent.Name)
		}
	}

	for _, rel := range res.Relationships {
		from, to := ids[entityKey(rel.From, rel.FromType)], ids[entityKey(rel.To, rel.ToType)]
		if from == "" || to == "" || from == to {
			continue
		}
		edge, err := e.store.UpsertEdge(ctx, &types.GraphEdge{
			FromNode:     from,
			ToNode:       to,
			Relationship: rel.Relationship,
			Weight:       types.DefaultEdgeWeight,
			Confidence:   1.0,
			SourceMemory: chunk.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert %s edge: %w", rel.Relationship, err)
		}
		out.EdgeIDs = append(out.EdgeIDs, edge.ID)
	}

	meta := &types.ChunkMetadata{
		ChunkID:       chunk.ID,
		MemoryFile:    chunk.Path,
		Type:          res.Type,
		CreatedAt:     now,
		People:        res.People,
		CaseRef:       res.CaseRef,
		Place:         res.Place,
		Tags:          res.Tags,
		Importance:    res.Importance,
		Domain:        res.Domain,
		Emotion:       res.Emotion,
		EmotionRaw:    res.EmotionRaw,
		Status:        res.Status,
		LinkedNodes:   out.NodeIDs,
		OutgoingLinks: res.OutgoingLinks,
		Frontmatter:   res.Frontmatter,
	}
	if res.OccurredAt != nil {
		meta.CreatedAt = *res.OccurredAt
	}
	if err := e.store.IndexChunk(ctx, chunk, meta); err != nil {
		return nil, fmt.Errorf("failed to index chunk %s: %w", chunk.ID, err)
	}

	out.Embedded = e.embed(ctx, chunk)

	names := make([]string, 0, len(res.Entities))
	for _, ent := range res.Entities {
		names = append(names, ent.Name)
	}
	e.queries.RegisterEntities(names...)
	e.observer.ObserveStore(len(out.NodeIDs), len(out.EdgeIDs))
	return out, nil
}

func (e *Engine) embed(ctx context.Context, chunk *types.Chunk) bool {
	if e.embedder == nil {
		return false
	}
	ectx, cancel := context.WithTimeout(ctx, e.config.EmbeddingTimeout)
	defer cancel()

	vec, err := e.embedder.Embed(ectx, chunk.Text)
	if err != nil {
		e.logger.Warn("embedding failed", zap.String("chunk_id", chunk.ID), zap.Error(err))
		return false
	}
	if err := e.vectors.StoreEmbedding(ctx, chunk.ID, llm.ToFloat64(vec), e.embedder.GetModel()); err != nil {
		e.logger.Warn("failed to store embedding", zap.String("chunk_id", chunk.ID), zap.Error(err))
		return false
	}
	return true
}

// SearchAdvanced answers query. It never fails: errors are reported in the
// response with an empty result list.
func (e *Engine) SearchAdvanced(ctx context.Context, req SearchRequest) *SearchResponse {
	started := time.Now()
	resp := &SearchResponse{Results: []search.Result{}}

	fail := func(err error) *SearchResponse {
		resp.Results = []search.Result{}
		resp.Error = err.Error()
		e.logger.Warn("search failed", zap.String("query", req.Query), zap.Error(err))
		e.observer.ObserveSearch(resp.QueryType, time.Since(started), 0, 0, true)
		return resp
	}

	resp.QueryType = e.queries.ClassifyQueryType(req.Query)
	resp.Weights = search.GetSearchWeights(resp.QueryType, req.Weights)
	if err := validation.Struct(req); err != nil {
		return fail(fmt.Errorf("%w: %v", storage.ErrInvalidInput, err))
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = e.config.MaxResults
	}
	candidates := e.config.CandidateLimit
	if candidates < limit {
		candidates = limit
	}

	lexical, err := e.store.LexicalSearch(ctx, req.Query, candidates)
	if err != nil {
		return fail(fmt.Errorf("lexical search: %w", err))
	}

	in := search.FuseInput{
		Lexical: lexical,
		Vector:  e.vectorHits(ctx, req.Query, candidates),
		Graph:   e.graphHits(ctx, req.Query),
		Weights: resp.Weights,
	}
	fused, err := search.Fuse(ctx, in, e.store)
	if err != nil {
		return fail(fmt.Errorf("fusion: %w", err))
	}

	e.decay(fused)

	filtered, err := search.ApplyFilters(fused, req.Filters)
	if err != nil {
		return fail(err)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	if req.TrackAccess && len(filtered) > 0 {
		ids := make([]string, len(filtered))
		for i, r := range filtered {
			ids[i] = r.ChunkID
		}
		if err := e.store.RecordAccess(ctx, ids, e.now()); err != nil {
			e.logger.Warn("failed to record access", zap.Error(err))
		}
	}

	primary := len(filtered)
	if req.ExpandGraph == nil || *req.ExpandGraph {
		filtered = e.expander.Expand(ctx, filtered, e.config.MaxExpansion)
	}
	resp.Results = filtered

	e.observer.ObserveSearch(resp.QueryType, time.Since(started), primary, len(filtered)-primary, false)
	e.logger.Debug("search completed",
		zap.String("query_type", string(resp.QueryType)),
		zap.Int("lexical", len(in.Lexical)),
		zap.Int("vector", len(in.Vector)),
		zap.Int("graph", len(in.Graph)),
		zap.Int("results", primary),
		zap.Duration("elapsed", time.Since(started)))
	return resp
}

func (e *Engine) vectorHits(ctx context.Context, query string, limit int) []storage.VectorHit {
	if e.embedder == nil {
		return nil
	}
	vec, ok := e.embedCache.Get(query)
	if !ok {
		ectx, cancel := context.WithTimeout(ctx, e.config.EmbeddingTimeout)
		raw, err := e.embedder.Embed(ectx, query)
		cancel()
		if err != nil {
			e.logger.Warn("query embedding failed", zap.Error(err))
			return nil
		}
		vec = llm.ToFloat64(raw)
		e.embedCache.Add(query, vec)
	}
	hits, err := e.vectors.VectorSearch(ctx, vec, limit)
	if err != nil {
		e.logger.Warn("vector search failed", zap.Error(err))
		return nil
	}
	return hits
}

// graphHits gathers chunks around the entities named in query from every
// relation source, keeping the best score per chunk.
func (e *Engine) graphHits(ctx context.Context, query string) []search.GraphHit {
	refs := e.queries.MatchEntities(query)
	if len(refs) == 0 {
		return nil
	}

	var hits []search.GraphHit
	index := make(map[string]int)
	for _, src := range e.relations {
		for _, ref := range refs {
			neighbors, err := src.Neighbors(ctx, ref)
			if err != nil {
				e.logger.Warn("relation source failed",
					zap.String("source", src.Name()), zap.String("ref", ref), zap.Error(err))
				continue
			}
			for _, n := range neighbors {
				i, seen := index[n.ChunkID]
				if !seen {
					index[n.ChunkID] = len(hits)
					hits = append(hits, search.GraphHit{ChunkID: n.ChunkID, Score: n.Score, LinkedNodes: n.LinkedNodes})
					continue
				}
				if n.Score > hits[i].Score {
					hits[i].Score = n.Score
				}
				hits[i].LinkedNodes = unionStrings(hits[i].LinkedNodes, n.LinkedNodes)
			}
		}
	}
	return hits
}

// decay ages fused scores by last access and status, then re-sorts.
func (e *Engine) decay(results []search.Result) {
	now := e.now()
	for i := range results {
		m := results[i].Metadata
		if m == nil {
			continue
		}
		results[i].Score = e.config.Decay.Apply(results[i].Score, m.LastAccessedAt, m.Status, m.AccessCount, now)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

// Explore returns the neighbourhood of entity. An unknown entity is not an
// error: the response has Found false.
func (e *Engine) Explore(ctx context.Context, req ExploreRequest) (*ExploreResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	res, err := e.store.ExploreGraph(ctx, req.Entity, storage.ExploreOptions{
		Depth:             req.Depth,
		RelationshipTypes: req.RelationshipTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("explore %q: %w", req.Entity, err)
	}
	if res == nil {
		return &ExploreResponse{Found: false}, nil
	}
	center := res.CenterNode
	return &ExploreResponse{
		Found:            true,
		CenterNode:       &center,
		ConnectedNodes:   res.ConnectedNodes,
		RelatedDocuments: res.RelatedDocuments,
	}, nil
}

// Stats summarises the store with the ten most connected entities and tags.
func (e *Engine) Stats(ctx context.Context) (*storage.Stats, error) {
	return e.store.Stats(ctx, 10)
}

// IndexFile re-indexes one markdown note in place. Sections whose text is
// unchanged are kept as they are; chunks of sections that disappeared are
// deleted. It returns the number of sections (re)indexed.
func (e *Engine) IndexFile(ctx context.Context, relPath string, content []byte) (int, error) {
	doc, err := importer.ParseDocument(content, relPath)
	if err != nil {
		return 0, err
	}
	fm := doc.Frontmatter
	if fm == nil {
		fm = map[string]interface{}{}
	}
	now := e.now()
	if !doc.Timestamp.IsZero() {
		now = doc.Timestamp
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sections := e.chunker.Split(doc.Body, doc.BodyStartLine)
	keep := make([]string, 0, len(sections))
	indexed := 0
	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		chunk := &types.Chunk{
			ID:        ChunkID(doc.Path, s.StartLine),
			Path:      doc.Path,
			Source:    "file",
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
			Text:      s.Text,
			Hash:      sqlite.ContentHash(s.Text),
		}
		keep = append(keep, chunk.ID)

		existing, err := e.store.GetChunk(ctx, chunk.ID)
		switch {
		case err == nil && existing.Hash == chunk.Hash && existing.EndLine == chunk.EndLine:
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return indexed, fmt.Errorf("failed to read chunk %s: %w", chunk.ID, err)
		}

		res := e.classify(ctx, s.Text, fm, now)
		if doc.Domain != "" && res.Domain == "" {
			res.Domain = doc.Domain
		}
		if _, err := e.persist(ctx, chunk, res, now); err != nil {
			return indexed, err
		}
		indexed++
	}

	removed, err := e.store.DeleteChunksForPath(ctx, doc.Path, keep)
	if err != nil {
		return indexed, fmt.Errorf("failed to prune %s: %w", doc.Path, err)
	}
	if err := e.dropVectors(ctx, removed); err != nil {
		return indexed, err
	}
	deleted := len(removed)
	e.observer.ObserveIndex(indexed, deleted)
	e.logger.Debug("file indexed",
		zap.String("path", doc.Path),
		zap.Int("sections", len(sections)),
		zap.Int("indexed", indexed),
		zap.Int("deleted", deleted))
	return indexed, nil
}

// RemoveFile deletes every chunk of relPath.
func (e *Engine) RemoveFile(ctx context.Context, relPath string) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	removed, err := e.store.DeleteChunksForPath(ctx, filepath.ToSlash(relPath), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", relPath, err)
	}
	if err := e.dropVectors(ctx, removed); err != nil {
		return len(removed), err
	}
	e.observer.ObserveIndex(0, len(removed))
	return len(removed), nil
}

// dropVectors removes embeddings of deleted chunks from an external vector
// index. Vectors kept in the chunk store go with their rows.
func (e *Engine) dropVectors(ctx context.Context, chunkIDs []string) error {
	d, ok := e.vectors.(storage.VectorDeleter)
	if !ok || len(chunkIDs) == 0 {
		return nil
	}
	if err := d.DeleteEmbeddings(ctx, chunkIDs); err != nil {
		return fmt.Errorf("failed to drop vectors: %w", err)
	}
	return nil
}

var _ importer.FileIndexer = (*Engine)(nil)

// nodeIndex answers classify.EntityIndex from the graph store.
type nodeIndex struct {
	ctx   context.Context
	store storage.GraphStore
}

func (n nodeIndex) Has(name string, nodeType types.NodeType) bool {
	_, err := n.store.FindNodeByName(n.ctx, name, &nodeType)
	return err == nil
}

func entityKey(name string, t types.NodeType) string {
	return string(t) + "\x00" + textutil.Fold(name)
}

func unionStrings(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		found := false
		for _, have := range out {
			if have == s {
				found = true
				break
			}
		}
		if !found {
			out = append(out, s)
		}
	}
	return out
}
