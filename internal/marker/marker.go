package marker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/fs"
)

const (
	// FileName is the fixed name of the marker inside an area.
	FileName = "MOUNT_INFO"
	// CurrentVersion is the version of the marker format.
	CurrentVersion = 1
)

// Marker describes a storage area. It is written once at creation.
type Marker struct {
	Version   int           `yaml:"version"`
	ID        string        `yaml:"id"`
	Kind      driver.Kind   `yaml:"kind"`
	Config    driver.Config `yaml:"config,omitempty"`
	CreatedAt time.Time     `yaml:"created"`
}

// New creates a marker for a new area.
func New(kind driver.Kind, cfg driver.Config) *Marker {
	return &Marker{
		Version:   CurrentVersion,
		ID:        uuid.NewString(),
		Kind:      kind,
		Config:    cfg.Clone(),
		CreatedAt: time.Now().UTC(),
	}
}

// Matches reports whether the marker records the given kind and config.
func (m *Marker) Matches(kind driver.Kind, cfg driver.Config) bool {
	return m.Kind == kind && m.Config.Equal(cfg)
}

// Encode returns the YAML encoding of m.
func Encode(m *Marker) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses and validates a marker.
func Decode(data []byte) (*Marker, error) {
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Version == 0 || m.Kind == "" {
		return nil, fmt.Errorf("%w: missing version or kind", ErrMalformed)
	}
	if m.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, m.Version)
	}
	return &m, nil
}

// Read loads the marker of the area at dir.
func Read(fsys fs.FileSystem, dir string) (*Marker, error) {
	data, err := fs.ReadFile(fsys, filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Decode(data)
}

// Exists reports whether dir holds a marker file. It never reads or mutates
// the area.
func Exists(fsys fs.FileSystem, dir string) bool {
	if fsys == nil {
		fsys = fs.Default
	}
	info, err := fsys.Stat(filepath.Join(dir, FileName))
	return err == nil && info.Mode().IsRegular()
}

// Write durably writes m into dir.
func Write(fsys fs.FileSystem, dir string, m *Marker) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := fs.WriteFileSync(fsys, filepath.Join(dir, FileName), data, 0o644); err != nil {
		return err
	}
	return fs.SyncDir(fsys, dir)
}
