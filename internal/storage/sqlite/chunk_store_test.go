package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

func TestIndexChunk_RoundTripsMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	chunk := indexTestChunk(t, s, "notes/2026-10-01.md", 3, "민수씨가 잔디밭 문제로 화를 냈다 #garden", types.ChunkMetadata{
		Type:          types.EntryEmotion,
		CreatedAt:     created,
		People:        []types.PersonRef{{Name: "민수씨", Identifier: "neighbor, 40s, gardens"}},
		CaseRef:       "잔디밭 분쟁",
		Tags:          []string{"#garden", "Garden", "neighbors"},
		Importance:    7,
		Emotion:       "angry",
		EmotionRaw:    "화를 냈다",
		Status:        types.StatusActive,
		LinkedNodes:   []string{"node-1"},
		OutgoingLinks: []string{"[[민수씨]]"},
		Frontmatter:   types.Properties{"mood": types.StringValue("tense")},
	})

	got, err := s.GetChunkMetadata(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EntryEmotion, got.Type)
	assert.True(t, got.CreatedAt.Equal(created))
	require.Len(t, got.People, 1)
	assert.Equal(t, "neighbor, 40s, gardens", got.People[0].Identifier)
	assert.Equal(t, "잔디밭 분쟁", got.CaseRef)
	assert.Equal(t, []string{"garden", "neighbors"}, got.Tags)
	assert.Equal(t, 7, got.Importance)
	assert.Equal(t, "화를 냈다", got.EmotionRaw)
	assert.Equal(t, []string{"node-1"}, got.LinkedNodes)
	assert.Equal(t, types.StringValue("tense"), got.Frontmatter["mood"])
	assert.Empty(t, got.Place, "missing fields are legal nulls")

	stored, err := s.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, ContentHash(chunk.Text), stored.Hash)

	tags, err := s.GetTagsForChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"garden", "neighbors"}, tags)
}

func TestUpsertChunkMetadata_RequiresChunkIDAndFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertChunkMetadata(ctx, &types.ChunkMetadata{MemoryFile: "a.md"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = s.UpsertChunkMetadata(ctx, &types.ChunkMetadata{ChunkID: "c1"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	require.NoError(t, s.UpsertChunkMetadata(ctx, &types.ChunkMetadata{ChunkID: "c1", MemoryFile: "a.md"}))
	got, err := s.GetChunkMetadata(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.EntryKnowledge, got.Type)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Equal(t, types.DefaultImportance, got.Importance)
}

func TestIndexChunk_IsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunk := &types.Chunk{ID: "c1", Path: "a.md", StartLine: 1, EndLine: 1, Text: "hello"}

	err := s.IndexChunk(ctx, chunk, &types.ChunkMetadata{MemoryFile: "a.md", Importance: 42})
	require.Error(t, err)

	_, err = s.GetChunk(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "chunk must not exist without its metadata")
}

func TestUpsertChunkMetadata_ReplacesButKeepsAccessCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunk := indexTestChunk(t, s, "a.md", 1, "first", types.ChunkMetadata{Tags: []string{"old"}})

	at := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordAccess(ctx, []string{chunk.ID}, at))
	require.NoError(t, s.RecordAccess(ctx, []string{chunk.ID}, at))

	indexTestChunk(t, s, "a.md", 1, "second", types.ChunkMetadata{Tags: []string{"new"}})

	got, err := s.GetChunkMetadata(ctx, chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got.Tags)
	assert.Equal(t, 2, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.Equal(at))

	hits, err := s.LexicalSearch(ctx, "second", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "FTS index follows text updates")
	hits, err = s.LexicalSearch(ctx, "first", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGetChunksMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := indexTestChunk(t, s, "a.md", 1, "a", types.ChunkMetadata{})
	b := indexTestChunk(t, s, "b.md", 1, "b", types.ChunkMetadata{})

	got, err := s.GetChunksMetadata(ctx, []string{a.ID, b.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, a.ID)

	_, err = s.GetChunkMetadata(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteChunksForPath_KeepsListed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keep := indexTestChunk(t, s, "a.md", 1, "keep", types.ChunkMetadata{})
	drop := indexTestChunk(t, s, "a.md", 4, "drop", types.ChunkMetadata{})
	other := indexTestChunk(t, s, "b.md", 1, "other", types.ChunkMetadata{})

	removed, err := s.DeleteChunksForPath(ctx, "a.md", []string{keep.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{drop.ID}, removed)

	_, err = s.GetChunk(ctx, drop.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetChunkMetadata(ctx, drop.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetChunk(ctx, keep.ID)
	assert.NoError(t, err)
	_, err = s.GetChunk(ctx, other.ID)
	assert.NoError(t, err)
}

func TestNextStartLine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next, err := s.NextStartLine(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	indexTestChunk(t, s, "a.md", 1, "one", types.ChunkMetadata{})
	indexTestChunk(t, s, "a.md", 4, "two", types.ChunkMetadata{})

	next, err = s.NextStartLine(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 7, next)
}

func TestUpsertChunk_RejectsBadRange(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertChunk(context.Background(), &types.Chunk{ID: "x", Path: "a.md", StartLine: 5, EndLine: 2})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
