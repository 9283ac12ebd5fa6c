package workspace

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/storage/sqlite"
)

// writeWorkspaces writes f as JSON to an in-memory filesystem and returns
// the filesystem and file path.
func writeWorkspaces(t *testing.T, f File) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := "/etc/memento/workspaces.json"
	data, err := json.MarshalIndent(f, "", "  ")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	return fs, path
}

func memoryWorkspaces() File {
	return File{
		DefaultWorkspace: "personal",
		Workspaces: []Workspace{
			{Name: "personal", Enabled: true, Path: ":memory:"},
			{Name: "work", Enabled: true, Path: ":memory:"},
			{Name: "archive", Enabled: false, Path: ":memory:"},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	fs, path := writeWorkspaces(t, memoryWorkspaces())
	r, err := NewRegistry(Config{File: path, DefaultWorkspace: "default"}, WithFs(fs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"url with password", "postgres://mem:secret@db:5432/mem?sslmode=disable", "postgres://mem:%5BREDACTED%5D@db:5432/mem?sslmode=disable"},
		{"url without password", "postgres://mem@db/mem", "postgres://mem@db/mem"},
		{"key value", "host=db user=mem password=secret dbname=mem", "host=db user=mem password=[REDACTED] dbname=mem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeDSN(tt.dsn)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "secret")
		})
	}
}

func TestNewRegistry_SingleDefaultWorkspace(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(Config{DataPath: dir, DefaultWorkspace: "notes"})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, "notes", r.Default())
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, filepath.Join(dir, "memento.db"), list[0].Path)

	eng, err := r.Engine(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, eng)
	assert.FileExists(t, filepath.Join(dir, "memento.db"))
}

func TestNewRegistry_FromFile(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, "personal", r.Default())

	names := make([]string, 0, 3)
	for _, ws := range r.List() {
		names = append(names, ws.Name)
	}
	assert.Equal(t, []string{"personal", "work", "archive"}, names)
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"no workspaces", File{DefaultWorkspace: "a"}},
		{"missing default", File{DefaultWorkspace: "b", Workspaces: []Workspace{{Name: "a", Enabled: true}}}},
		{"duplicate", File{DefaultWorkspace: "a", Workspaces: []Workspace{{Name: "a"}, {Name: "a"}}}},
		{"bad name", File{DefaultWorkspace: "A B", Workspaces: []Workspace{{Name: "A B"}}}},
		{"empty name", File{DefaultWorkspace: "", Workspaces: []Workspace{{Name: ""}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, path := writeWorkspaces(t, tt.file)
			_, err := NewRegistry(Config{File: path}, WithFs(fs))
			assert.Error(t, err)
		})
	}
}

func TestNewRegistry_MissingFile(t *testing.T) {
	_, err := NewRegistry(Config{File: "/nope/workspaces.json"}, WithFs(afero.NewMemMapFs()))
	assert.Error(t, err)
}

func TestNewRegistry_MalformedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/w.json", []byte("{not json"), 0o644))
	_, err := NewRegistry(Config{File: "/w.json"}, WithFs(fs))
	assert.Error(t, err)
}

func TestNewRegistry_DefaultFromConfig(t *testing.T) {
	fs, path := writeWorkspaces(t, File{Workspaces: []Workspace{{Name: "default", Enabled: true, Path: ":memory:"}}})
	r, err := NewRegistry(Config{File: path, DefaultWorkspace: "default"}, WithFs(fs))
	require.NoError(t, err)
	assert.Equal(t, "default", r.Default())
}

func TestEngine_CachesPerWorkspace(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	personal, err := r.Engine(ctx, "personal")
	require.NoError(t, err)
	again, err := r.Engine(ctx, "")
	require.NoError(t, err)
	assert.Same(t, personal, again)

	work, err := r.Engine(ctx, "work")
	require.NoError(t, err)
	assert.NotSame(t, personal, work)
}

func TestEngine_WorkspacesAreIsolated(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	personal, err := r.Engine(ctx, "personal")
	require.NoError(t, err)
	_, err = personal.StoreAdvanced(ctx, engine.StoreRequest{Content: "민수씨와 잔디밭 분쟁을 이야기했다."})
	require.NoError(t, err)

	work, err := r.Engine(ctx, "work")
	require.NoError(t, err)
	stats, err := work.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
}

func TestEngine_UnknownAndDisabled(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Engine(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Engine(ctx, "archive")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEngine_CanceledContext(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Engine(ctx, "work")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ConcurrentOpenReturnsOneEngine(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	const n = 10
	got := make([]*engine.Engine, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			eng, err := r.Engine(ctx, "work")
			assert.NoError(t, err)
			got[i] = eng
		}(i)
	}
	wg.Wait()

	for _, eng := range got[1:] {
		assert.Same(t, got[0], eng)
	}
}

func TestDBPath(t *testing.T) {
	r := &Registry{data: "/data", baseDir: "/etc/memento"}

	assert.Equal(t, "/data/work.db", r.dbPath(Workspace{Name: "work"}))
	assert.Equal(t, ":memory:", r.dbPath(Workspace{Name: "m", Path: ":memory:"}))
	assert.Equal(t, "/etc/memento/db/a.db", r.dbPath(Workspace{Name: "a", Path: "db/a.db"}))
	assert.Equal(t, "/srv/a.db", r.dbPath(Workspace{Name: "a", Path: "/srv/a.db"}))
}

func TestPath(t *testing.T) {
	r := newTestRegistry(t)

	p, err := r.Path("")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", p)

	_, err = r.Path("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Path("archive")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNewRegistryWithEngine_DoesNotCloseBorrowed(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	eng, err := engine.New(store)
	require.NoError(t, err)

	r := NewRegistryWithEngine("default", eng)
	got, err := r.Engine(context.Background(), "")
	require.NoError(t, err)
	assert.Same(t, eng, got)

	require.NoError(t, r.Close())
	_, err = eng.Stats(context.Background())
	assert.NoError(t, err, "borrowed engine stays open")
}
