package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// Fault defines the failure behavior for files whose name matches a rule.
type Fault struct {
	// FailAfterBytes makes a write fail once this many bytes have been
	// written to the file. A partial prefix of the failing write is written
	// first, leaving a torn record on disk. -1 disables the limit.
	FailAfterBytes int64
	FailOnSync     bool
	FailOnClose    bool
	FailOnTruncate bool
	FailOnRename   bool
	FailOnOpen     bool
	Err            error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS is a FileSystem wrapper that injects errors for matching paths.
type FaultyFS struct {
	FS    FileSystem
	mu    sync.Mutex
	rules map[string]Fault // substring of the path -> fault
}

// NewFaultyFS creates a new FaultyFS wrapping fsys (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:    fsys,
		rules: make(map[string]Fault),
	}
}

// AddRule adds a fault for every path containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// ClearRules removes all injected faults.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]Fault)
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return rule, true
		}
	}
	return Fault{FailAfterBytes: -1}, false
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	fault, ok := f.match(name)
	if ok && fault.FailOnOpen {
		return nil, &os.PathError{Op: "open", Path: name, Err: fault.err()}
	}
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return file, nil
	}
	return &faultyFile{File: file, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error    { return f.FS.Remove(name) }
func (f *FaultyFS) RemoveAll(path string) error { return f.FS.RemoveAll(path) }

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault, ok := f.match(newpath); ok && fault.FailOnRename {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fault.err()}
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }

func (f *FaultyFS) Truncate(name string, size int64) error {
	if fault, ok := f.match(name); ok && fault.FailOnTruncate {
		return fault.err()
	}
	return f.FS.Truncate(name, size)
}

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	limit := ff.fault.FailAfterBytes
	if limit >= 0 && ff.written+int64(len(p)) > limit {
		// Write the allowed prefix to leave a torn tail behind.
		allowed := limit - ff.written
		n := 0
		if allowed > 0 {
			n, _ = ff.File.Write(p[:allowed])
			ff.written += int64(n)
		}
		return n, ff.fault.err()
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Truncate(size int64) error {
	if ff.fault.FailOnTruncate {
		return ff.fault.err()
	}
	return ff.File.Truncate(size)
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		_ = ff.File.Close()
		return ff.fault.err()
	}
	return ff.File.Close()
}
