package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/internal/search"
	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/storage/sqlite"
	"github.com/scrypster/memento-graph/pkg/types"
)

var engineNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

const disputeNote = "민수씨(이웃, 40대)가 잔디밭 분쟁 때문에 앞마당에서 화가 나서 찾아왔다."

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]Option{WithClock(func() time.Time { return engineNow })}, opts...)
	e, err := New(store, opts...)
	require.NoError(t, err)
	return e
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(text, "tulip") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

type countingObserver struct {
	stores, searches, indexed atomic.Int32
}

func (o *countingObserver) ObserveStore(int, int) { o.stores.Add(1) }
func (o *countingObserver) ObserveIndex(chunks, _ int) { o.indexed.Add(int32(chunks)) }
func (o *countingObserver) ObserveSearch(types.QueryType, time.Duration, int, int, bool) {
	o.searches.Add(1)
}

func boolPtr(b bool) *bool { return &b }

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.MaxResults = 0
	_, err = New(store, WithConfig(cfg))
	assert.Error(t, err)
}

func TestStoreAdvanced_DisputeNote(t *testing.T) {
	obs := &countingObserver{}
	e := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()

	res, err := e.StoreAdvanced(ctx, StoreRequest{Content: disputeNote, Tags: []string{"neighbors"}})
	require.NoError(t, err)

	assert.Equal(t, "memory/2026-03-14.md", res.Path)
	assert.Equal(t, 1, res.StartLine)
	assert.Equal(t, 1, res.EndLine)
	assert.Equal(t, ChunkID("memory/2026-03-14.md", 1), res.ChunkID)
	assert.Equal(t, "잔디밭 분쟁", res.Case)
	assert.Equal(t, "앞마당", res.Place)
	assert.Equal(t, "angry", res.Emotion)
	assert.Equal(t, 7, res.Importance)
	assert.Contains(t, res.Tags, "neighbors")
	require.Len(t, res.People, 1)
	assert.Equal(t, "이웃, 40대", res.People[0].Identifier)
	assert.Len(t, res.NodeIDs, 3)
	assert.Len(t, res.EdgeIDs, 3)
	assert.ElementsMatch(t, []string{"민수씨", "잔디밭 분쟁", "앞마당"}, res.NewEntities)
	assert.False(t, res.ClassificationFallback)
	assert.False(t, res.Embedded)
	assert.EqualValues(t, 1, obs.stores.Load())

	meta, err := e.Store().GetChunkMetadata(ctx, res.ChunkID)
	require.NoError(t, err)
	assert.ElementsMatch(t, res.NodeIDs, meta.LinkedNodes)
	assert.Equal(t, "memory/2026-03-14.md", meta.MemoryFile)

	// A second note on the same day appends below the first and reuses nodes.
	again, err := e.StoreAdvanced(ctx, StoreRequest{Content: disputeNote + "\n다시 이야기하기로 했다."})
	require.NoError(t, err)
	assert.Equal(t, 2, again.StartLine)
	assert.Equal(t, 3, again.EndLine)
	assert.Empty(t, again.NewEntities)
	assert.ElementsMatch(t, res.NodeIDs, again.NodeIDs)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Nodes)
	assert.Equal(t, 3, stats.Edges)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 1, stats.Files)
}

func TestStoreAdvanced_KeepsLines(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.StoreAdvanced(ctx, StoreRequest{Content: "\n# Garden\r\n\n- line one\n- line two\n\n", File: "garden.md"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.StartLine)
	assert.Equal(t, 4, res.EndLine)

	chunk, err := e.Store().GetChunk(ctx, res.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, "# Garden\n\n- line one\n- line two", chunk.Text)

	next, err := e.StoreAdvanced(ctx, StoreRequest{Content: "one more", File: "garden.md"})
	require.NoError(t, err)
	assert.Equal(t, 5, next.StartLine)
	assert.Equal(t, 5, next.EndLine)
}

func TestStoreAdvanced_ExplicitTypeAndFile(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.StoreAdvanced(context.Background(), StoreRequest{
		Content:      "lorem ipsum dolor",
		Type:         "Decision",
		AutoClassify: boolPtr(false),
		File:         "./projects/plan.md",
		Source:       "chat",
	})
	require.NoError(t, err)
	assert.Equal(t, types.EntryDecision, res.Type)
	assert.Equal(t, "projects/plan.md", res.Path)
	assert.Empty(t, res.NodeIDs)
	assert.NotNil(t, res.Tags)
}

func TestStoreAdvanced_InvalidInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StoreAdvanced(ctx, StoreRequest{Content: "   "})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	_, err = e.StoreAdvanced(ctx, StoreRequest{Content: "note", Type: "gossip"})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestStoreAdvanced_EmbeddingFailureIsNotFatal(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&fakeEmbedder{err: errors.New("connection refused")}))
	res, err := e.StoreAdvanced(context.Background(), StoreRequest{Content: "tulip bulbs arrived"})
	require.NoError(t, err)
	assert.False(t, res.Embedded)
}

func TestExplore_DepthTwo(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.StoreAdvanced(ctx, StoreRequest{Content: disputeNote})
	require.NoError(t, err)

	resp, err := e.Explore(ctx, ExploreRequest{
		Entity:            "민수씨",
		Depth:             2,
		RelationshipTypes: []string{"involved_in", "located_at"},
	})
	require.NoError(t, err)
	require.True(t, resp.Found)
	require.NotNil(t, resp.CenterNode)
	assert.Equal(t, "민수씨", resp.CenterNode.Name)

	depths := map[string]int{}
	for _, c := range resp.ConnectedNodes {
		depths[c.Node.Name] = c.Depth
	}
	assert.Equal(t, map[string]int{"잔디밭 분쟁": 1, "앞마당": 2}, depths)
	require.Len(t, resp.RelatedDocuments, 1)
	assert.Equal(t, "memory/2026-03-14.md", resp.RelatedDocuments[0].Path)
}

func TestExplore_UnknownEntity(t *testing.T) {
	e := newTestEngine(t)
	resp, err := e.Explore(context.Background(), ExploreRequest{Entity: "nobody"})
	require.NoError(t, err)
	assert.False(t, resp.Found)
	assert.Nil(t, resp.CenterNode)

	_, err = e.Explore(context.Background(), ExploreRequest{Entity: "x", Depth: 9})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func seedNeighbourNotes(t *testing.T, e *Engine) (dispute, tulips *StoreResult) {
	t.Helper()
	ctx := context.Background()
	var err error
	dispute, err = e.StoreAdvanced(ctx, StoreRequest{Content: disputeNote, File: "notes/a.md"})
	require.NoError(t, err)
	tulips, err = e.StoreAdvanced(ctx, StoreRequest{Content: "민수씨가 튤립 구근을 나눠 주었다.", File: "notes/b.md"})
	require.NoError(t, err)
	_, err = e.StoreAdvanced(ctx, StoreRequest{Content: "grocery list: milk, eggs", File: "notes/c.md"})
	require.NoError(t, err)
	return dispute, tulips
}

func TestSearchAdvanced_EntityQueryUsesGraph(t *testing.T) {
	obs := &countingObserver{}
	e := newTestEngine(t, WithObserver(obs))
	dispute, _ := seedNeighbourNotes(t, e)

	resp := e.SearchAdvanced(context.Background(), SearchRequest{Query: "잔디밭 분쟁", ExpandGraph: boolPtr(false)})
	require.Empty(t, resp.Error)
	assert.Equal(t, types.QueryEntity, resp.QueryType)
	assert.Equal(t, types.SearchWeights{Vector: 0.2, BM25: 0.2, Graph: 0.6}, resp.Weights)

	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, dispute.ChunkID, top.ChunkID)
	require.NotNil(t, top.GraphScore)
	assert.Equal(t, 1.0, *top.GraphScore)
	assert.Equal(t, "잔디밭 분쟁", top.Case)
	for _, r := range resp.Results {
		assert.NotEqual(t, "notes/c.md", r.Path)
		assert.False(t, r.Related)
	}
	assert.EqualValues(t, 1, obs.searches.Load())
}

func TestSearchAdvanced_ExpandsRelatedContext(t *testing.T) {
	e := newTestEngine(t)
	dispute, tulips := seedNeighbourNotes(t, e)
	ctx := context.Background()

	resp := e.SearchAdvanced(ctx, SearchRequest{Query: "잔디밭 분쟁", MaxResults: 1})
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, dispute.ChunkID, resp.Results[0].ChunkID)
	assert.False(t, resp.Results[0].Related)

	rel := resp.Results[1]
	assert.Equal(t, tulips.ChunkID, rel.ChunkID)
	assert.True(t, rel.Related)
	assert.Equal(t, search.RelatedScore, rel.Score)
	assert.True(t, strings.HasPrefix(rel.Snippet, search.RelatedPrefix))
	assert.Contains(t, rel.Via, "graph")

	resp = e.SearchAdvanced(ctx, SearchRequest{Query: "잔디밭 분쟁", MaxResults: 1, ExpandGraph: boolPtr(false)})
	assert.Len(t, resp.Results, 1)
}

func TestSearchAdvanced_FiltersAndErrors(t *testing.T) {
	e := newTestEngine(t)
	seedNeighbourNotes(t, e)
	ctx := context.Background()

	resp := e.SearchAdvanced(ctx, SearchRequest{
		Query:       "민수씨",
		Filters:     search.Filters{MinImportance: 7},
		ExpandGraph: boolPtr(false),
	})
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Importance, 7)
	}

	resp = e.SearchAdvanced(ctx, SearchRequest{Query: "민수씨", Filters: search.Filters{Type: "gossip"}})
	assert.NotEmpty(t, resp.Error)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	resp = e.SearchAdvanced(ctx, SearchRequest{Query: ""})
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Results)
}

func TestSearchAdvanced_TrackAccess(t *testing.T) {
	e := newTestEngine(t)
	dispute, _ := seedNeighbourNotes(t, e)
	ctx := context.Background()

	resp := e.SearchAdvanced(ctx, SearchRequest{Query: "잔디밭 분쟁", MaxResults: 1, TrackAccess: true})
	require.Empty(t, resp.Error)

	meta, err := e.Store().GetChunkMetadata(ctx, dispute.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.AccessCount)
	require.NotNil(t, meta.LastAccessedAt)
	assert.True(t, meta.LastAccessedAt.Equal(engineNow))
}

func TestSearchAdvanced_DecayDemotesStaleChunks(t *testing.T) {
	now := engineNow
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e, err := New(store, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	stale, err := e.StoreAdvanced(ctx, StoreRequest{Content: "compost bin notes", File: "a.md"})
	require.NoError(t, err)
	fresh, err := e.StoreAdvanced(ctx, StoreRequest{Content: "compost bin notes", File: "b.md"})
	require.NoError(t, err)
	require.NoError(t, store.RecordAccess(ctx, []string{stale.ChunkID}, now.AddDate(0, -6, 0)))

	resp := e.SearchAdvanced(ctx, SearchRequest{Query: "compost bin", ExpandGraph: boolPtr(false)})
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, fresh.ChunkID, resp.Results[0].ChunkID)
	assert.Less(t, resp.Results[1].Score, resp.Results[0].Score)
}

func TestSearchAdvanced_VectorSignalAndCache(t *testing.T) {
	emb := &fakeEmbedder{}
	e := newTestEngine(t, WithEmbedder(emb))
	ctx := context.Background()

	res, err := e.StoreAdvanced(ctx, StoreRequest{Content: "tulip bulbs go in before frost"})
	require.NoError(t, err)
	assert.True(t, res.Embedded)
	_, err = e.StoreAdvanced(ctx, StoreRequest{Content: "grocery list: milk, eggs"})
	require.NoError(t, err)

	calls := emb.calls.Load()
	resp := e.SearchAdvanced(ctx, SearchRequest{Query: "spring tulip ideas", ExpandGraph: boolPtr(false)})
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, res.ChunkID, resp.Results[0].ChunkID)
	require.NotNil(t, resp.Results[0].VectorScore)
	assert.InDelta(t, 1.0, *resp.Results[0].VectorScore, 1e-9)
	assert.Equal(t, calls+1, emb.calls.Load())

	e.SearchAdvanced(ctx, SearchRequest{Query: "spring tulip ideas"})
	assert.Equal(t, calls+1, emb.calls.Load(), "query embedding should come from the cache")
}

const gardenFile = `---
tags: [garden]
---
# Garden

민수씨(이웃, 40대)가 잔디밭 분쟁 때문에 앞마당에서 화가 나서 찾아왔다.

# Shopping

Buy tulip bulbs.
`

func TestIndexFile_ReindexInPlace(t *testing.T) {
	obs := &countingObserver{}
	e := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()

	n, err := e.IndexFile(ctx, "vault/garden.md", []byte(gardenFile))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := e.Store().GetChunk(ctx, ChunkID("vault/garden.md", 4))
	require.NoError(t, err)
	assert.Equal(t, 6, first.EndLine)
	tags, err := e.Store().GetTagsForChunk(ctx, first.ID)
	require.NoError(t, err)
	assert.Contains(t, tags, "garden")

	n, err = e.IndexFile(ctx, "vault/garden.md", []byte(gardenFile))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged sections are skipped")

	edited := strings.Replace(gardenFile, "Buy tulip bulbs.", "Buy tulip bulbs and compost.", 1)
	n, err = e.IndexFile(ctx, "vault/garden.md", []byte(edited))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	shortened := strings.SplitN(gardenFile, "# Shopping", 2)[0]
	n, err = e.IndexFile(ctx, "vault/garden.md", []byte(shortened))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)

	removed, err := e.RemoveFile(ctx, "vault/garden.md")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.EqualValues(t, 3, obs.indexed.Load())
}

// mapVectors is an external vector index that drops vectors on request.
type mapVectors struct {
	mu   sync.Mutex
	vecs map[string][]float64
}

func (m *mapVectors) StoreEmbedding(_ context.Context, chunkID string, embedding []float64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vecs[chunkID] = embedding
	return nil
}

func (m *mapVectors) VectorSearch(context.Context, []float64, int) ([]storage.VectorHit, error) {
	return nil, nil
}

func (m *mapVectors) DeleteEmbeddings(_ context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.vecs, id)
	}
	return nil
}

func (m *mapVectors) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.vecs {
		out = append(out, id)
	}
	return out
}

func TestIndexFile_DropsVectorsOfRemovedChunks(t *testing.T) {
	vecs := &mapVectors{vecs: map[string][]float64{}}
	e := newTestEngine(t, WithEmbedder(&fakeEmbedder{}), WithVectorIndex(vecs))
	ctx := context.Background()

	_, err := e.IndexFile(ctx, "vault/garden.md", []byte(gardenFile))
	require.NoError(t, err)
	require.Len(t, vecs.ids(), 2)

	shortened := strings.SplitN(gardenFile, "# Shopping", 2)[0]
	_, err = e.IndexFile(ctx, "vault/garden.md", []byte(shortened))
	require.NoError(t, err)
	assert.Equal(t, []string{ChunkID("vault/garden.md", 4)}, vecs.ids(), "pruned section loses its vector")

	_, err = e.RemoveFile(ctx, "vault/garden.md")
	require.NoError(t, err)
	assert.Empty(t, vecs.ids())
}

func TestRefresh_RegistersStoredEntities(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.UpsertNode(context.Background(), &types.GraphNode{Name: "Harborview", Type: types.NodeTypePlace})
	require.NoError(t, err)

	e, err := New(store)
	require.NoError(t, err)
	assert.Equal(t, types.QueryEntity, e.SearchAdvanced(context.Background(), SearchRequest{Query: "harborview plans"}).QueryType)
}

func TestRefresh_RegistersEveryEntity(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for i := 0; i < 501; i++ {
		_, err := store.UpsertNode(ctx, &types.GraphNode{Name: fmt.Sprintf("Topic %03d", i), Type: types.NodeTypeTopic, Importance: 9})
		require.NoError(t, err)
	}
	_, err = store.UpsertNode(ctx, &types.GraphNode{Name: "Quincy", Type: types.NodeTypePerson, Importance: 1})
	require.NoError(t, err)

	e, err := New(store)
	require.NoError(t, err)
	assert.Equal(t, 502, e.queries.KnownEntities())
	assert.Equal(t, types.QueryEntity, e.SearchAdvanced(ctx, SearchRequest{Query: "quincy plans"}).QueryType,
		"a low-importance entity behind 500 others is still recognised")
}
