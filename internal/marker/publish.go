package marker

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hupe1980/casefs/internal/fs"
)

// InitFunc lays out the driver files of a new area inside the staging
// directory.
type InitFunc func(staging string) error

// Publish creates the area at dir: it runs init and writes m inside a fresh
// staging directory, then renames the staging directory onto dir.
//
// If an area already occupies dir, before or after losing a concurrent
// rename, Publish returns its marker together with ErrExists. On any other
// failure no trace of the attempt is left behind.
func Publish(fsys fs.FileSystem, dir string, m *Marker, init InitFunc) (*Marker, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	dir = filepath.Clean(dir)
	if existing, err := Read(fsys, dir); err == nil {
		return existing, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	parent := filepath.Dir(dir)
	if err := fsys.MkdirAll(parent, 0o755); err != nil {
		return nil, err
	}
	staging := filepath.Join(parent, fmt.Sprintf(".%s.tmp-%s", filepath.Base(dir), uuid.NewString()))
	if err := fsys.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}
	published := false
	defer func() {
		if !published {
			_ = fsys.RemoveAll(staging)
		}
	}()

	if init != nil {
		if err := init(staging); err != nil {
			return nil, fmt.Errorf("init layout: %w", err)
		}
	}
	if err := Write(fsys, staging, m); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err := fsys.Rename(staging, dir)
		if err == nil {
			break
		}
		// Lost the race, or dir is occupied by something that is not an area.
		if existing, rerr := Read(fsys, dir); rerr == nil {
			return existing, ErrExists
		}
		// Rename refuses to replace a directory, even an empty one. An empty
		// one is removed and the rename retried once. Remove fails on a
		// directory a concurrent creator has filled meanwhile, and the retry
		// then ends in the read-back above.
		if attempt > 0 || !emptyDir(fsys, dir) {
			return nil, err
		}
		_ = fsys.Remove(dir)
	}
	published = true
	if err := fs.SyncDir(fsys, parent); err != nil {
		return nil, err
	}
	return m, nil
}

func emptyDir(fsys fs.FileSystem, dir string) bool {
	entries, err := fsys.ReadDir(dir)
	return err == nil && len(entries) == 0
}
