// Package sqlite implements a driver backed by a single SQLite database.
//
// The database lives at <area>/sqlite/records.db. Read-only instances open it
// with mode=ro so SQLite itself rejects writes in addition to the driver's own
// checks.
package sqlite

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/fs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Kind is the driver kind of the SQLite store.
const Kind driver.Kind = "sqlite"

// ConfigJournalMode selects the SQLite journal: "delete" (default) or "wal".
const ConfigJournalMode = "journal_mode"

const (
	dirName  = "sqlite"
	fileName = "records.db"

	JournalDelete = "delete"
	JournalWAL    = "wal"
)

func parseJournalMode(cfg driver.Config) (string, error) {
	if err := cfg.CheckKeys(ConfigJournalMode); err != nil {
		return "", err
	}
	switch m := cfg.String(ConfigJournalMode, JournalDelete); m {
	case JournalDelete, JournalWAL:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s=%q", driver.ErrInvalidConfig, ConfigJournalMode, m)
	}
}

// Factory creates SQLite stores.
type Factory struct{}

func (Factory) Kind() driver.Kind { return Kind }

func (Factory) Validate(cfg driver.Config) error {
	_, err := parseJournalMode(cfg)
	return err
}

// Init creates the database and its schema.
func (Factory) Init(dir string, cfg driver.Config, opts driver.Options) error {
	opts = opts.WithDefaults()
	mode, err := parseJournalMode(cfg)
	if err != nil {
		return err
	}
	sdir := filepath.Join(dir, dirName)
	if err := opts.FS.MkdirAll(sdir, 0o755); err != nil {
		return err
	}
	db, err := openDB(filepath.Join(sdir, fileName), "rwc")
	if err != nil {
		return err
	}
	if err := applyPragmas(db, mode); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Close(); err != nil {
		return err
	}
	return fs.SyncDir(opts.FS, sdir)
}

func (Factory) Open(dir string, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	return Open(dir, cfg, opts)
}

// dsn builds a file: URI for path. The path is percent-encoded so that '?',
// '#' and '%' in directory names are not taken for URI syntax.
func dsn(path string, q url.Values) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: q.Encode()}
	return u.String()
}

func openDB(path, mode string) (*sql.DB, error) {
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("_busy_timeout", "5000")
	db, err := sql.Open("sqlite3", dsn(path, q))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// between our own statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

func applyPragmas(db *sql.DB, journal string) error {
	pragmas := []string{
		"PRAGMA journal_mode = " + journal,
		"PRAGMA synchronous = FULL",
	}
	if journal == JournalWAL {
		// Commits become durable on checkpoint, which Flush forces.
		pragmas[1] = "PRAGMA synchronous = NORMAL"
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %q: %w", p, err)
		}
	}
	return nil
}

// Store is an open SQLite store.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	logger   *slog.Logger
	journal  string
	readOnly bool
	closed   bool
}

// Open opens the database under dir.
func Open(dir string, cfg driver.Config, opts driver.Options) (*Store, error) {
	opts = opts.WithDefaults()
	journal, err := parseJournalMode(cfg)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, dirName, fileName)
	if _, err := opts.FS.Stat(path); err != nil {
		return nil, err
	}

	mode := "rw"
	if opts.ReadOnly {
		mode = "ro"
	}
	db, err := openDB(path, mode)
	if err != nil {
		return nil, err
	}
	if !opts.ReadOnly {
		if err := applyPragmas(db, journal); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{
		db:       db,
		logger:   opts.Logger.With("driver", string(Kind)),
		journal:  journal,
		readOnly: opts.ReadOnly,
	}, nil
}

func (s *Store) check(write bool) error {
	if s.closed {
		return driver.ErrClosed
	}
	if write && s.readOnly {
		return driver.ErrReadOnly
	}
	return nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.QueryRow("SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	if value == nil {
		// A nil slice binds as NULL.
		value = []byte{}
	}
	_, err := s.db.Exec(
		"INSERT INTO records (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM records WHERE key = ?", key)
	return err
}

func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	rows, err := s.db.Query("SELECT key FROM records ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Flush checkpoints the WAL. In delete mode every commit is already synced.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return err
	}
	if s.readOnly || s.journal != JournalWAL {
		return nil
	}
	var busy, logFrames, checkpointed int
	if err := s.db.QueryRow("PRAGMA wal_checkpoint(FULL)").Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint: database busy (%d/%d frames)", checkpointed, logFrames)
	}
	return nil
}

// Compact rebuilds the database file with VACUUM.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	_, err := s.db.Exec("VACUUM")
	return err
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close database", "error", err)
	}
}

var (
	_ driver.Driver    = (*Store)(nil)
	_ driver.Compactor = (*Store)(nil)
)
