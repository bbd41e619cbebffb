// Package block implements the default driver: a packed block store.
//
// Records are appended to a small number of large data files under
// <area>/block. An in-memory offset table, rebuilt by scanning the files at
// open time, maps every live key to the location of its latest record.
// Overwrites and deletes append new records; Compact rewrites the live set
// to reclaim the space of superseded ones.
//
// Every record carries a length prefix and a CRC32C checksum. A damaged final
// record (an append interrupted by a crash) is discarded when the store is
// opened, keeping every record written before it.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/fs"
)

// Kind is the driver kind of the block store.
const Kind driver.Kind = "block"

const (
	dirName        = "block"
	filePrefix     = "data-"
	fileSuffix     = ".blk"
	fileMagic      = "CASEBLK\x00" // 8 bytes
	fileVersion    = 1             // 4 bytes
	fileHeaderSize = 12

	// DefaultMaxFileSize is the size at which appends roll over to a new file.
	DefaultMaxFileSize = 64 << 20
)

// Config keys understood by the block driver.
const (
	ConfigCompression = "compression"
	ConfigMaxFileSize = "max_file_size"
	ConfigSyncWrites  = "sync_writes"
)

type settings struct {
	codec       Codec
	maxFileSize int64
	syncWrites  bool
}

func parseSettings(cfg driver.Config) (settings, error) {
	var s settings
	if err := cfg.CheckKeys(ConfigCompression, ConfigMaxFileSize, ConfigSyncWrites); err != nil {
		return s, err
	}
	var err error
	if s.codec, err = parseCodec(cfg.String(ConfigCompression, "none")); err != nil {
		return s, err
	}
	if s.maxFileSize, err = cfg.Int64(ConfigMaxFileSize, DefaultMaxFileSize); err != nil {
		return s, err
	}
	if s.maxFileSize <= fileHeaderSize+recordHeaderSize {
		return s, fmt.Errorf("%w: %s=%d is too small", driver.ErrInvalidConfig, ConfigMaxFileSize, s.maxFileSize)
	}
	if s.syncWrites, err = cfg.Bool(ConfigSyncWrites, false); err != nil {
		return s, err
	}
	return s, nil
}

// Factory creates block stores.
type Factory struct{}

func (Factory) Kind() driver.Kind { return Kind }

func (Factory) Validate(cfg driver.Config) error {
	_, err := parseSettings(cfg)
	return err
}

func (Factory) Init(dir string, cfg driver.Config, opts driver.Options) error {
	opts = opts.WithDefaults()
	if _, err := parseSettings(cfg); err != nil {
		return err
	}
	bdir := filepath.Join(dir, dirName)
	if err := opts.FS.MkdirAll(bdir, 0o755); err != nil {
		return err
	}
	f, err := createDataFile(opts.FS, bdir, 1)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.SyncDir(opts.FS, bdir)
}

func (Factory) Open(dir string, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	return Open(dir, cfg, opts)
}

// entry locates the latest record of a key.
type entry struct {
	file uint32
	off  int64
	size uint32
}

// Stats describes the space usage of a store.
type Stats struct {
	Files     int
	Records   int
	LiveBytes int64
	DeadBytes int64
}

// Store is an open block store.
type Store struct {
	mu       sync.RWMutex
	fs       fs.FileSystem
	logger   *slog.Logger
	dir      string
	set      settings
	readOnly bool

	files  map[uint32]fs.File
	sizes  map[uint32]int64 // logical end of each file
	active uint32
	index  map[string]entry

	liveBytes int64
	deadBytes int64

	dirty    bool // appended since the last fsync
	dirDirty bool // files created since the last directory fsync
	closed   bool
	fatal    error
}

// Open opens the block store under dir.
func Open(dir string, cfg driver.Config, opts driver.Options) (*Store, error) {
	opts = opts.WithDefaults()
	set, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		fs:       opts.FS,
		logger:   opts.Logger.With("driver", string(Kind)),
		dir:      filepath.Join(dir, dirName),
		set:      set,
		readOnly: opts.ReadOnly,
		files:    make(map[uint32]fs.File),
		sizes:    make(map[uint32]int64),
		index:    make(map[string]entry),
	}

	ids, err := s.listFiles()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.load(id); err != nil {
			s.closeFiles()
			return nil, err
		}
	}

	if !s.readOnly {
		if len(ids) == 0 {
			f, err := createDataFile(s.fs, s.dir, 1)
			if err != nil {
				return nil, err
			}
			s.files[1] = f
			s.sizes[1] = fileHeaderSize
			s.dirDirty = true
			ids = append(ids, 1)
		}
		s.active = ids[len(ids)-1]
		if _, err := s.files[s.active].Seek(s.sizes[s.active], io.SeekStart); err != nil {
			s.closeFiles()
			return nil, err
		}
	}
	return s, nil
}

func dataFileName(id uint32) string {
	return fmt.Sprintf("%s%06d%s", filePrefix, id, fileSuffix)
}

func (s *Store) path(id uint32) string {
	return filepath.Join(s.dir, dataFileName(id))
}

func (s *Store) listFiles() ([]uint32, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 32)
		if err != nil || n == 0 {
			continue
		}
		ids = append(ids, uint32(n))
	}
	slices.Sort(ids)
	return ids, nil
}

func createDataFile(fsys fs.FileSystem, dir string, id uint32) (fs.File, error) {
	path := filepath.Join(dir, dataFileName(id))
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := writeFileHeader(f); err != nil {
		_ = f.Close()
		_ = fsys.Remove(path)
		return nil, err
	}
	return f, nil
}

func writeFileHeader(f fs.File) error {
	header := make([]byte, fileHeaderSize)
	copy(header, fileMagic)
	binary.LittleEndian.PutUint32(header[8:], fileVersion)
	if _, err := f.Write(header); err != nil {
		return err
	}
	return f.Sync()
}

func resetDataFile(f fs.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return writeFileHeader(f)
}

// load scans one data file into the offset table.
func (s *Store) load(id uint32) error {
	path := s.path(id)
	flag := os.O_RDWR
	if s.readOnly {
		flag = os.O_RDONLY
	}
	f, err := s.fs.OpenFile(path, flag, 0)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	size := info.Size()

	if size < fileHeaderSize {
		// Interrupted while the file was being created.
		s.logger.Warn("discarding incomplete data file header", "file", path, "size", size)
		if !s.readOnly {
			if err := resetDataFile(f); err != nil {
				_ = f.Close()
				return err
			}
		}
		s.files[id] = f
		s.sizes[id] = fileHeaderSize
		return nil
	}

	header := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		_ = f.Close()
		return err
	}
	if string(header[:8]) != fileMagic {
		_ = f.Close()
		return fmt.Errorf("%w: %s: invalid magic %q", driver.ErrCorrupt, path, header[:8])
	}
	if v := binary.LittleEndian.Uint32(header[8:]); v != fileVersion {
		_ = f.Close()
		return fmt.Errorf("%w: %s: version %d (expected %d)", driver.ErrCorrupt, path, v, fileVersion)
	}

	sc := newScanner(f, fileHeaderSize, size)
	for {
		rec, off, err := sc.next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, errTorn) {
			s.logger.Warn("discarding torn record", "file", path, "offset", sc.off, "bytes", size-sc.off)
			if !s.readOnly {
				if err := f.Truncate(sc.off); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Sync(); err != nil {
					_ = f.Close()
					return err
				}
			}
			break
		}
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("%s: %w", path, err)
		}
		s.apply(rec, entry{file: id, off: off, size: uint32(rec.size())})
	}

	s.files[id] = f
	s.sizes[id] = sc.off
	return nil
}

func (s *Store) apply(rec *record, e entry) {
	old, had := s.index[rec.key]
	if had {
		s.liveBytes -= int64(old.size)
		s.deadBytes += int64(old.size)
	}
	switch rec.typ {
	case RecordPut:
		s.index[rec.key] = e
		s.liveBytes += int64(e.size)
	case RecordDelete:
		delete(s.index, rec.key)
		s.deadBytes += int64(e.size)
	}
}

func (s *Store) usable() error {
	if s.closed {
		return driver.ErrClosed
	}
	return s.fatal
}

func (s *Store) writable() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.readOnly {
		return driver.ErrReadOnly
	}
	return nil
}

// Get returns the latest value stored under key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, false, err
	}
	e, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, e.size)
	if n, err := s.files[e.file].ReadAt(buf, e.off); n != len(buf) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	rec, err := decodeRecord(buf)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	if rec.key != key || rec.typ != RecordPut {
		return nil, false, fmt.Errorf("read %s: %w: offset table points at %q", key, driver.ErrCorrupt, rec.key)
	}
	v, err := decompress(rec.codec, rec.value, rec.rawLen)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}

// Put appends a record storing value under key.
func (s *Store) Put(key string, value []byte) error {
	if len(key) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", driver.ErrKeyTooLarge, len(key))
	}
	if len(value) > maxValueLen {
		return fmt.Errorf("value of %d bytes exceeds the %d byte limit", len(value), maxValueLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	stored, codec, err := compress(s.set.codec, value)
	if err != nil {
		return err
	}
	rec := &record{typ: RecordPut, codec: codec, key: key, rawLen: uint32(len(value)), value: stored}
	e, err := s.append(rec)
	if err != nil {
		return err
	}
	s.apply(rec, e)
	return nil
}

// Delete appends a tombstone for key if it is live.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if _, ok := s.index[key]; !ok {
		return nil
	}
	rec := &record{typ: RecordDelete, key: key}
	e, err := s.append(rec)
	if err != nil {
		return err
	}
	s.apply(rec, e)
	return nil
}

// append writes rec at the end of the active file. A failed write is cut
// off again; if that is impossible the store is poisoned.
func (s *Store) append(rec *record) (entry, error) {
	if s.sizes[s.active] >= s.set.maxFileSize {
		if err := s.rollover(); err != nil {
			return entry{}, err
		}
	}
	f := s.files[s.active]
	off := s.sizes[s.active]
	buf := rec.encode()

	if _, err := f.Write(buf); err != nil {
		terr := f.Truncate(off)
		if terr == nil {
			_, terr = f.Seek(off, io.SeekStart)
		}
		if terr != nil {
			s.fatal = fmt.Errorf("%w: cannot discard failed append to %s: %v (write: %v)",
				driver.ErrCorrupt, s.path(s.active), terr, err)
			return entry{}, s.fatal
		}
		return entry{}, fmt.Errorf("append to %s: %w", s.path(s.active), err)
	}
	s.sizes[s.active] = off + int64(len(buf))
	s.dirty = true

	if s.set.syncWrites {
		if err := f.Sync(); err != nil {
			// After a failed fsync the page cache state is unknown.
			s.fatal = fmt.Errorf("%w: fsync %s: %v", driver.ErrCorrupt, s.path(s.active), err)
			return entry{}, s.fatal
		}
		s.dirty = false
	}
	return entry{file: s.active, off: off, size: uint32(len(buf))}, nil
}

func (s *Store) rollover() error {
	if s.dirty {
		if err := s.files[s.active].Sync(); err != nil {
			return err
		}
		s.dirty = false
	}
	next := s.active + 1
	f, err := createDataFile(s.fs, s.dir, next)
	if err != nil {
		return err
	}
	s.files[next] = f
	s.sizes[next] = fileHeaderSize
	s.active = next
	s.dirDirty = true
	s.logger.Debug("rolled over to new data file", "file", s.path(next))
	return nil
}

// Keys returns all live keys in byte order.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Flush fsyncs the active data file and the data directory.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.readOnly {
		return nil
	}
	if s.dirty {
		if err := s.files[s.active].Sync(); err != nil {
			s.fatal = fmt.Errorf("%w: fsync %s: %v", driver.ErrCorrupt, s.path(s.active), err)
			return s.fatal
		}
		s.dirty = false
	}
	if s.dirDirty {
		if err := fs.SyncDir(s.fs, s.dir); err != nil {
			return err
		}
		s.dirDirty = false
	}
	return nil
}

// Stats returns the current space usage.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Files:     len(s.files),
		Records:   len(s.index),
		LiveBytes: s.liveBytes,
		DeadBytes: s.deadBytes,
	}
}

// Compact copies the live records into fresh data files and removes the old
// ones. A crash at any point leaves a store that scans to the same contents:
// the new files sort after the old ones, and old files are removed in order.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if s.deadBytes == 0 {
		return nil
	}

	oldIDs := slices.Sorted(maps.Keys(s.files))
	keys := slices.Sorted(maps.Keys(s.index))

	newFiles := make(map[uint32]fs.File)
	newSizes := make(map[uint32]int64)
	newIndex := make(map[string]entry, len(s.index))
	abort := func(err error) error {
		for id, f := range newFiles {
			_ = f.Close()
			_ = s.fs.Remove(s.path(id))
		}
		return fmt.Errorf("compact: %w", err)
	}

	cur := s.active + 1
	f, err := createDataFile(s.fs, s.dir, cur)
	if err != nil {
		return abort(err)
	}
	newFiles[cur], newSizes[cur] = f, fileHeaderSize
	if _, err := f.Seek(fileHeaderSize, io.SeekStart); err != nil {
		return abort(err)
	}

	var live int64
	for _, k := range keys {
		e := s.index[k]
		buf := make([]byte, e.size)
		if n, err := s.files[e.file].ReadAt(buf, e.off); n != len(buf) {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return abort(err)
		}
		if newSizes[cur] >= s.set.maxFileSize {
			if err := newFiles[cur].Sync(); err != nil {
				return abort(err)
			}
			cur++
			nf, err := createDataFile(s.fs, s.dir, cur)
			if err != nil {
				return abort(err)
			}
			newFiles[cur], newSizes[cur] = nf, fileHeaderSize
		}
		if _, err := newFiles[cur].Write(buf); err != nil {
			return abort(err)
		}
		newIndex[k] = entry{file: cur, off: newSizes[cur], size: e.size}
		newSizes[cur] += int64(e.size)
		live += int64(e.size)
	}
	if err := newFiles[cur].Sync(); err != nil {
		return abort(err)
	}
	if err := fs.SyncDir(s.fs, s.dir); err != nil {
		return abort(err)
	}

	oldFiles := s.files
	reclaimed := s.deadBytes
	s.files, s.sizes, s.index = newFiles, newSizes, newIndex
	s.active = cur
	s.liveBytes, s.deadBytes = live, 0
	s.dirty, s.dirDirty = false, false

	var firstErr error
	for _, id := range oldIDs {
		if err := oldFiles[id].Close(); err != nil {
			s.logger.Warn("close compacted data file", "file", s.path(id), "error", err)
		}
		if err := s.fs.Remove(s.path(id)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("compact: remove %s: %w", s.path(id), err)
		}
	}
	if err := fs.SyncDir(s.fs, s.dir); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info("compaction completed", "records", len(keys), "reclaimed_bytes", reclaimed, "files", len(newFiles))
	return firstErr
}

// Close closes all data files. Errors are logged.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeFiles()
}

func (s *Store) closeFiles() {
	for id, f := range s.files {
		if err := f.Close(); err != nil {
			s.logger.Warn("close data file", "file", s.path(id), "error", err)
		}
	}
	s.files = map[uint32]fs.File{}
}

var (
	_ driver.Driver    = (*Store)(nil)
	_ driver.Compactor = (*Store)(nil)
)
