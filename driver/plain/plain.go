// Package plain implements a driver that stores every record in its own file.
//
// Keys are encoded with unpadded base32hex to obtain portable file names. With
// fanout enabled (the default) files are spread over 256 sub-directories
// chosen by a checksum of the key, keeping directories small for areas with
// millions of records.
package plain

import (
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/fs"
	"github.com/hupe1980/casefs/internal/hash"
)

// Kind is the driver kind of the plain store.
const Kind driver.Kind = "plain"

// ConfigFanout enables hashed sub-directories ("true" by default).
const ConfigFanout = "fanout"

const (
	dirName     = "plain"
	tempSuffix  = ".tmp"
	maxNameSize = 255
)

var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

func parseFanout(cfg driver.Config) (bool, error) {
	if err := cfg.CheckKeys(ConfigFanout); err != nil {
		return false, err
	}
	return cfg.Bool(ConfigFanout, true)
}

// Factory creates plain stores.
type Factory struct{}

func (Factory) Kind() driver.Kind { return Kind }

func (Factory) Validate(cfg driver.Config) error {
	_, err := parseFanout(cfg)
	return err
}

func (Factory) Init(dir string, cfg driver.Config, opts driver.Options) error {
	opts = opts.WithDefaults()
	if _, err := parseFanout(cfg); err != nil {
		return err
	}
	pdir := filepath.Join(dir, dirName)
	if err := opts.FS.MkdirAll(pdir, 0o755); err != nil {
		return err
	}
	return fs.SyncDir(opts.FS, pdir)
}

func (Factory) Open(dir string, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	return Open(dir, cfg, opts)
}

// Store is an open plain store.
type Store struct {
	mu       sync.RWMutex
	fs       fs.FileSystem
	logger   *slog.Logger
	dir      string
	fanout   bool
	readOnly bool
	closed   bool
	dirty    map[string]struct{} // directories with unsynced entries
}

// Open opens the plain store under dir.
func Open(dir string, cfg driver.Config, opts driver.Options) (*Store, error) {
	opts = opts.WithDefaults()
	fanout, err := parseFanout(cfg)
	if err != nil {
		return nil, err
	}
	pdir := filepath.Join(dir, dirName)
	info, err := opts.FS.Stat(pdir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", driver.ErrCorrupt, pdir)
	}
	return &Store{
		fs:       opts.FS,
		logger:   opts.Logger.With("driver", string(Kind)),
		dir:      pdir,
		fanout:   fanout,
		readOnly: opts.ReadOnly,
		dirty:    make(map[string]struct{}),
	}, nil
}

func (s *Store) locate(key string) (dir, name string, err error) {
	name = encoding.EncodeToString([]byte(key))
	if len(name)+len(tempSuffix) > maxNameSize {
		return "", "", fmt.Errorf("%w: %d bytes", driver.ErrKeyTooLarge, len(key))
	}
	dir = s.dir
	if s.fanout {
		dir = filepath.Join(s.dir, fmt.Sprintf("%02x", hash.CRC32C([]byte(key))&0xff))
	}
	return dir, name, nil
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

// Get reads the file of key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, false, err
	}
	dir, name, err := s.locate(key)
	if err != nil {
		return nil, false, err
	}
	data, err := fs.ReadFile(s.fs, filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put writes value to a temporary file, fsyncs it and renames it over the
// file of key.
func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	dir, name, err := s.locate(key)
	if err != nil {
		return err
	}
	if s.fanout {
		if _, err := s.fs.Stat(dir); errors.Is(err, os.ErrNotExist) {
			if err := s.fs.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			s.dirty[s.dir] = struct{}{}
		}
	}
	tmp := filepath.Join(dir, name+tempSuffix)
	if err := fs.WriteFileSync(s.fs, tmp, value, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	s.dirty[dir] = struct{}{}
	return nil
}

// Delete removes the file of key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	dir, name, err := s.locate(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(filepath.Join(dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	s.dirty[dir] = struct{}{}
	return nil
}

// Keys lists and decodes all record files.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	dirs := []string{s.dir}
	if s.fanout {
		entries, err := s.fs.ReadDir(s.dir)
		if err != nil {
			return nil, err
		}
		dirs = dirs[:0]
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(s.dir, e.Name()))
			}
		}
	}

	var keys []string
	for _, dir := range dirs {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasSuffix(e.Name(), tempSuffix) {
				continue
			}
			k, err := encoding.DecodeString(e.Name())
			if err != nil {
				s.logger.Debug("ignoring foreign file", "file", filepath.Join(dir, e.Name()))
				continue
			}
			keys = append(keys, string(k))
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Flush fsyncs the directories touched since the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return err
	}
	for _, dir := range slices.Sorted(maps.Keys(s.dirty)) {
		if err := fs.SyncDir(s.fs, dir); err != nil {
			return err
		}
		delete(s.dirty, dir)
	}
	return nil
}

// Close marks the store closed. Files are never held open between calls.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && len(s.dirty) > 0 {
		s.logger.Warn("closing with unsynced directories", "count", len(s.dirty))
	}
	s.closed = true
}

var _ driver.Driver = (*Store)(nil)
