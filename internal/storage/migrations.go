package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// Dialect adapts the bookkeeping SQL to a driver's placeholder syntax.
type Dialect int

// Supported dialects.
const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// MigrationManager applies numbered SQL migrations from an fs.FS (normally
// an embed.FS compiled into the backend package). Files are named
// NNN_name.up.sql and are applied in ascending order; the highest applied
// version is tracked in a schema_migrations table.
type MigrationManager struct {
	db      *sql.DB
	files   fs.FS
	dir     string
	dialect Dialect
}

type migration struct {
	version uint
	name    string
	upFile  string
}

// NewMigrationManager creates a manager over the migrations in dir of files.
func NewMigrationManager(db *sql.DB, files fs.FS, dir string, dialect Dialect) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}
	if files == nil {
		return nil, fmt.Errorf("migrations: migration files are required")
	}

	mgr := &MigrationManager{db: db, files: files, dir: dir, dialect: dialect}
	if err := mgr.ensureSchemaTable(); err != nil {
		return nil, fmt.Errorf("migrations: failed to create schema table: %w", err)
	}
	return mgr, nil
}

func (mgr *MigrationManager) ensureSchemaTable() error {
	_, err := mgr.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Up applies all pending migrations in ascending version order and returns
// how many were applied. Each migration runs in its own transaction together
// with its bookkeeping row.
func (mgr *MigrationManager) Up() (int, error) {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to load migration files: %w", err)
	}

	currentVersion, err := mgr.Version()
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return 0, fmt.Errorf("migrations: failed to get current version: %w", err)
	}

	insert := "INSERT INTO schema_migrations (version) VALUES (?)"
	if mgr.dialect == DialectPostgres {
		insert = "INSERT INTO schema_migrations (version) VALUES ($1)"
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		body, err := fs.ReadFile(mgr.files, m.upFile)
		if err != nil {
			return applied, fmt.Errorf("migrations: failed to read %s: %w", m.upFile, err)
		}

		tx, err := mgr.db.Begin()
		if err != nil {
			return applied, fmt.Errorf("migrations: begin version %d: %w", m.version, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("migrations: failed to apply version %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(insert, m.version); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("migrations: failed to record version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("migrations: commit version %d: %w", m.version, err)
		}
		applied++
	}

	return applied, nil
}

// Version returns the highest applied migration version, or ErrNoMigration
// when none has been applied.
func (mgr *MigrationManager) Version() (uint, error) {
	var version uint
	err := mgr.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to query version: %w", err)
	}
	if version == 0 {
		return 0, ErrNoMigration
	}
	return version, nil
}

// loadMigrations lists NNN_name.up.sql files sorted by version.
func (mgr *MigrationManager) loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(mgr.files, mgr.dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to read directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		underscoreIdx := strings.Index(name, "_")
		if underscoreIdx < 0 {
			continue
		}
		versionInt, err := strconv.ParseUint(name[:underscoreIdx], 10, 64)
		if err != nil {
			continue
		}
		migrations = append(migrations, migration{
			version: uint(versionInt),
			name:    strings.TrimSuffix(name[underscoreIdx+1:], ".up.sql"),
			upFile:  path.Join(mgr.dir, name),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}
