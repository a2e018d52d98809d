// Package backup snapshots and restores the SQLite people database.
//
// Snapshots use VACUUM INTO, which yields a consistent copy while the
// database is open in WAL mode. Each snapshot is integrity-checked before
// it counts, and only the newest Keep snapshots are retained.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	filePrefix  = "contactcard-"
	fileSuffix  = ".db"
	DefaultKeep = 10
)

// Info describes one snapshot file.
type Info struct {
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Manager writes snapshots of dbPath into dir.
type Manager struct {
	dbPath string
	dir    string
	keep   int
	log    zerolog.Logger
}

// NewManager returns a manager. keep <= 0 means DefaultKeep.
func NewManager(dbPath, dir string, keep int, log zerolog.Logger) (*Manager, error) {
	if dbPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: create directory: %w", err)
	}
	return &Manager{dbPath: dbPath, dir: dir, keep: keep, log: log}, nil
}

// Snapshot writes and verifies a new snapshot, then prunes old ones.
func (m *Manager) Snapshot(ctx context.Context) (*Info, error) {
	start := time.Now()
	if _, err := os.Stat(m.dbPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	name := filePrefix + start.UTC().Format("20060102-150405.000000") + fileSuffix
	path := filepath.Join(m.dir, name)
	if err := vacuumInto(ctx, m.dbPath, path); err != nil {
		return nil, err
	}
	if err := Verify(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: stat snapshot: %w", err)
	}
	info := &Info{Path: path, Size: st.Size(), CreatedAt: start.UTC(), Duration: time.Since(start)}

	if err := m.prune(); err != nil {
		m.log.Warn().Err(err).Msg("backup: failed to prune old snapshots")
	}
	m.log.Info().Str("path", path).Int64("size", info.Size).Dur("duration", info.Duration).Msg("backup: snapshot written")
	return info, nil
}

// List returns snapshots newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read directory: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(m.dir, e.Name()), Size: st.Size(), CreatedAt: st.ModTime().UTC()})
	}
	// Names sort by timestamp.
	sort.Slice(out, func(i, j int) bool { return out[i].Path > out[j].Path })
	return out, nil
}

func (m *Manager) prune() error {
	snaps, err := m.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range snaps[min(m.keep, len(snaps)):] {
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore replaces the database with snapshot. The server must not be
// running. The current database is kept as {db}.pre-restore until the
// restored copy verifies.
func (m *Manager) Restore(ctx context.Context, snapshot string) error {
	if err := Verify(ctx, snapshot); err != nil {
		return err
	}

	previous := m.dbPath + ".pre-restore"
	hadDB := false
	if _, err := os.Stat(m.dbPath); err == nil {
		hadDB = true
		_ = os.Remove(previous)
		if err := vacuumInto(ctx, m.dbPath, previous); err != nil {
			return fmt.Errorf("backup: save current database: %w", err)
		}
	}

	if err := copyFile(snapshot, m.dbPath); err != nil || Verify(ctx, m.dbPath) != nil {
		if hadDB {
			if rbErr := copyFile(previous, m.dbPath); rbErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %w", rbErr)
			}
		}
		if err == nil {
			err = errors.New("restored copy failed verification")
		}
		return fmt.Errorf("backup: restore failed: %w", err)
	}

	// Stale WAL files belong to the replaced database.
	_ = os.Remove(m.dbPath + "-wal")
	_ = os.Remove(m.dbPath + "-shm")
	if hadDB {
		_ = os.Remove(previous)
	}
	m.log.Info().Str("snapshot", snapshot).Msg("backup: database restored")
	return nil
}

// Verify runs SQLite's integrity check on path.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check %s: %s", path, result)
	}
	return nil
}

func vacuumInto(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", "file:"+src+"?mode=ro")
	if err != nil {
		return fmt.Errorf("backup: open source: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("backup: vacuum into %s: %w", dst, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
