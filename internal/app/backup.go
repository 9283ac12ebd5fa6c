package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/scrypster/memento-graph/internal/backup"
)

// Backups returns a snapshot manager for dir, or <data>/backups when dir
// is empty.
func (a *App) Backups(dir string) *backup.Manager {
	if dir == "" {
		dir = filepath.Join(a.Config.Storage.DataPath, "backups")
	}
	return backup.NewManager(dir, backup.WithLogger(a.Logger.Named("backup")))
}

// Backup snapshots workspace name into m and prunes its older snapshots by
// policy. It returns the new snapshot and the pruned ones.
func (a *App) Backup(ctx context.Context, m *backup.Manager, name string, verify bool, policy backup.Policy) (*backup.Info, []backup.Info, error) {
	if name == "" {
		name = a.Registry.Default()
	}
	eng, err := a.Registry.Engine(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	info, err := m.Snapshot(ctx, eng.Store().DB(), name, verify)
	if err != nil {
		return nil, nil, err
	}
	removed, err := m.Prune(name, policy)
	return info, removed, err
}

// Restore replaces the database of workspace name with snapshot. The
// workspace must not be open in this or any other process.
func (a *App) Restore(ctx context.Context, m *backup.Manager, name, snapshot string) error {
	if name == "" {
		name = a.Registry.Default()
	}
	target, err := a.Registry.Path(name)
	if err != nil {
		return err
	}
	if target == ":memory:" || strings.HasPrefix(target, "file:") {
		return fmt.Errorf("workspace %q has no database file to restore into", name)
	}
	return m.Restore(ctx, snapshot, target)
}
