package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrExists is returned when a snapshot for the same second already exists.
var ErrExists = errors.New("snapshot already exists")

// Manager owns a snapshot directory.
//
// Snapshot, Verify and Restore always work on the OS filesystem because
// sqlite writes there; listing and pruning go through fs.
type Manager struct {
	dir    string
	fs     afero.Fs
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem used for listing and pruning.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager for dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:    dir,
		fs:     afero.NewOsFs(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.dir }

// Snapshot writes a consistent copy of db to <dir>/<workspace>-<time>.db.
// VACUUM INTO is safe while other connections are writing in WAL mode.
func (m *Manager) Snapshot(ctx context.Context, db *sql.DB, workspace string, verify bool) (*Info, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := m.now().UTC().Truncate(time.Second)
	path := filepath.Join(m.dir, snapshotName(workspace, now))
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrExists)
	}

	start := time.Now()
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return nil, fmt.Errorf("failed to snapshot %q: %w", workspace, err)
	}

	info := &Info{Workspace: workspace, Path: path, Time: now, Duration: time.Since(start)}
	if st, err := os.Stat(path); err == nil {
		info.Size = st.Size()
	}
	if verify {
		if err := Verify(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, err
		}
		info.Verified = true
	}

	m.logger.Info("snapshot written",
		zap.String("workspace", workspace),
		zap.String("path", path),
		zap.Int64("size", info.Size),
		zap.Bool("verified", info.Verified),
		zap.Duration("duration", info.Duration))
	return info, nil
}

// Verify runs PRAGMA integrity_check on a snapshot.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", path, result)
	}
	return nil
}

// Restore verifies snapshot and copies it over target. Nothing may have
// target open; stale WAL files next to it are removed.
func (m *Manager) Restore(ctx context.Context, snapshot, target string) error {
	if err := Verify(ctx, snapshot); err != nil {
		return err
	}

	src, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	tmp := target + ".restore"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(target + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", target+suffix, err)
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	m.logger.Info("snapshot restored", zap.String("snapshot", snapshot), zap.String("target", target))
	return nil
}

func snapshotName(workspace string, t time.Time) string {
	return workspace + "-" + t.UTC().Format(timeLayout) + ".db"
}

// parseName returns the snapshot time when name is a snapshot of workspace.
func parseName(name, workspace string) (time.Time, bool) {
	prefix := workspace + "-"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
	t, err := time.Parse(timeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
