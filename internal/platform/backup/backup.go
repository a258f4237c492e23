// Package backup snapshots the SQLite database into a backup directory,
// restores snapshots and runs automatic backups on a schedule.
package backup

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

var (
	ErrUnsupportedDriver = errors.New("backups are only supported for SQLite databases")
	ErrNoBackup          = errors.New("no backup found")
	ErrInvalidFile       = errors.New("invalid backup file")
)

const (
	filePrefix   = "agenda-"
	stampLayout  = "20060102-150405"
	lastFileName = "last_backup.json"
)

// Record describes one backup file.
type Record struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	File      string    `json:"file"`
	Size      int64     `json:"size,omitempty"`
}

type Options struct {
	Dir  string
	Zip  bool
	Keep int
}

// Manager writes backups of one database into Options.Dir.
type Manager struct {
	db     *db.DB
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewManager(d *db.DB, opts Options, logger zerolog.Logger) *Manager {
	if opts.Keep < 1 {
		opts.Keep = 1
	}
	return &Manager{db: d, opts: opts, logger: logger, now: time.Now}
}

// Run snapshots the database with VACUUM INTO, optionally zips it, records it
// in last_backup.json and prunes old backups.
func (m *Manager) Run(ctx context.Context) (*Record, error) {
	if m.db.Dialect != db.SQLite {
		return nil, ErrUnsupportedDriver
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	ts := m.now()
	base := m.freeName(filePrefix + ts.Format(stampLayout))
	dbFile := filepath.Join(m.opts.Dir, base+".db")
	if _, err := m.db.Conn(ctx).Exec(ctx, `VACUUM INTO ?`, dbFile); err != nil {
		return nil, fmt.Errorf("vacuum into %s: %w", dbFile, err)
	}

	final := dbFile
	if m.opts.Zip {
		final = filepath.Join(m.opts.Dir, base+".zip")
		if err := zipFile(dbFile, final); err != nil {
			os.Remove(final)
			return nil, fmt.Errorf("zip backup: %w", err)
		}
		if err := os.Remove(dbFile); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	rec := &Record{ID: uuid.NewString(), Timestamp: ts, File: filepath.Base(final), Size: info.Size()}
	if err := m.writeLast(rec); err != nil {
		return nil, err
	}
	removed, err := m.prune()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to prune old backups")
	}

	m.logger.Info().
		Str("backup_id", rec.ID).
		Str("file", rec.File).
		Int64("size", rec.Size).
		Int("pruned", removed).
		Msg("database backup written")
	return rec, nil
}

// freeName appends a counter when a backup with the same second exists.
func (m *Manager) freeName(base string) string {
	name := base
	for i := 2; ; i++ {
		_, errDB := os.Stat(filepath.Join(m.opts.Dir, name+".db"))
		_, errZip := os.Stat(filepath.Join(m.opts.Dir, name+".zip"))
		if os.IsNotExist(errDB) && os.IsNotExist(errZip) {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func zipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	w, err := zw.Create(filepath.Base(src))
	if err == nil {
		_, err = io.Copy(w, in)
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *Manager) writeLast(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(m.opts.Dir, lastFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(m.opts.Dir, lastFileName))
}

// prune keeps the newest Options.Keep backups.
func (m *Manager) prune() (int, error) {
	items, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range items[min(len(items), m.opts.Keep):] {
		if err := os.Remove(filepath.Join(m.opts.Dir, r.File)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) &&
		(strings.HasSuffix(name, ".db") || strings.HasSuffix(name, ".zip"))
}

// List returns the backups in the directory, newest first.
func (m *Manager) List() ([]Record, error) {
	entries, err := os.ReadDir(m.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := []Record{}
	for _, e := range entries {
		if e.IsDir() || !isBackupFile(e.Name()) {
			continue
		}
		r := Record{File: e.Name()}
		stamp := strings.TrimPrefix(e.Name(), filePrefix)
		if len(stamp) >= len(stampLayout) {
			if ts, err := time.ParseInLocation(stampLayout, stamp[:len(stampLayout)], time.Local); err == nil {
				r.Timestamp = ts
			}
		}
		if info, err := e.Info(); err == nil {
			r.Size = info.Size()
		}
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		// Same second: "-N" suffixed names came later.
		if len(items[i].File) != len(items[j].File) {
			return len(items[i].File) > len(items[j].File)
		}
		return items[i].File > items[j].File
	})
	return items, nil
}

// Last returns the backup recorded in last_backup.json.
func (m *Manager) Last() (*Record, error) {
	data, err := os.ReadFile(filepath.Join(m.opts.Dir, lastFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("read %s: %w", lastFileName, err)
	}
	return &rec, nil
}

// Restore replaces the database file with the named backup. The database
// must not be in use: close every connection before calling it.
func (m *Manager) Restore(file string) error {
	if m.db.Dialect != db.SQLite || m.db.Path == "" {
		return ErrUnsupportedDriver
	}
	if file != filepath.Base(file) || !isBackupFile(file) {
		return fmt.Errorf("%w: %q", ErrInvalidFile, file)
	}
	src := filepath.Join(m.opts.Dir, file)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoBackup, file)
		}
		return err
	}

	tmp := m.db.Path + ".restore"
	var err error
	if strings.HasSuffix(file, ".zip") {
		err = unzipFirst(src, tmp)
	} else {
		err = copyFile(src, tmp)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("restore %s: %w", file, err)
	}

	for _, sidecar := range []string{"-wal", "-shm"} {
		os.Remove(m.db.Path + sidecar)
	}
	if err := os.Rename(tmp, m.db.Path); err != nil {
		return err
	}
	m.logger.Info().Str("file", file).Str("database", m.db.Path).Msg("database restored from backup")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFrom(in, dst)
}

func unzipFirst(src, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".db") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeFrom(rc, dst)
	}
	return fmt.Errorf("%w: archive holds no database", ErrInvalidFile)
}

func writeFrom(r io.Reader, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
