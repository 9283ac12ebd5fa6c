package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/pkg/types"
)

// newTestStore creates an in-memory SQLite store with all migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// indexTestChunk writes a chunk plus metadata. The chunk ID is derived from
// path and start line.
func indexTestChunk(t *testing.T, s *Store, path string, start int, text string, meta types.ChunkMetadata) *types.Chunk {
	t.Helper()
	chunk := &types.Chunk{
		ID:        types.LocationKey(path, start),
		Path:      path,
		Source:    "test",
		StartLine: start,
		EndLine:   start + 2,
		Text:      text,
	}
	meta.ChunkID = chunk.ID
	if meta.MemoryFile == "" {
		meta.MemoryFile = path
	}
	if meta.Importance == 0 {
		meta.Importance = types.DefaultImportance
	}
	require.NoError(t, s.IndexChunk(context.Background(), chunk, &meta))
	return chunk
}

func TestDbPathFromDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"in-memory", ":memory:", ""},
		{"empty", "", ""},
		{"bare path", "/tmp/test.db", "/tmp/test.db"},
		{"file URI bare", "file:/tmp/test.db", "/tmp/test.db"},
		{"file URI with params", "file:/tmp/test.db?mode=rwc&_journal=WAL", "/tmp/test.db"},
		{"file URI memory", "file::memory:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dbPathFromDSN(tt.dsn); got != tt.want {
				t.Errorf("dbPathFromDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

// TestClose_WALCheckpoint verifies that Close() flushes the WAL so -shm is removed.
func TestClose_WALCheckpoint(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "checkpoint-test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	indexTestChunk(t, store, "notes/wal.md", 1, "WAL checkpoint test data", types.ChunkMetadata{})

	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := os.Stat(dbPath + "-shm"); err == nil {
		t.Errorf("-shm file still exists after Close()")
	}
}

// TestNewStore_RecoverStaleWAL verifies that a database reopens after a
// crashed process left a garbage -shm file behind.
func TestNewStore_RecoverStaleWAL(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "stale-wal-test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("initial NewStore() failed: %v", err)
	}
	chunk := indexTestChunk(t, store, "notes/stale.md", 1, "Stale WAL recovery test", types.ChunkMetadata{})
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := os.WriteFile(dbPath+"-shm", []byte("garbage-shm-data-from-crash"), 0644); err != nil {
		t.Fatalf("failed to write fake -shm: %v", err)
	}

	store2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() after stale WAL should succeed, got: %v", err)
	}
	defer func() { _ = store2.Close() }()

	got, err := store2.GetChunk(context.Background(), chunk.ID)
	if err != nil {
		t.Fatalf("GetChunk() after recovery failed: %v", err)
	}
	if got.Text != "Stale WAL recovery test" {
		t.Errorf("Text after recovery: got %q", got.Text)
	}
}

func TestNewStore_ReopenDoesNotReapplyMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	for i := 0; i < 2; i++ {
		store, err := NewStore(dbPath, WithClock(func() time.Time { return time.Unix(0, 0).UTC() }))
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
}

func TestIsRecoverableWALError(t *testing.T) {
	if isRecoverableWALError(nil) {
		t.Error("nil error must not be recoverable")
	}
	if !isRecoverableWALError(errors.New("disk I/O error (10)")) {
		t.Error("disk I/O error should be recoverable")
	}
	if isRecoverableWALError(errors.New("no such table: chunks")) {
		t.Error("schema errors must not be recoverable")
	}
}
