package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing/fstest"
)

// MemFS is an in-memory FileSystem for tests. Paths are cleaned, so
// "laps/a.txt" and "./laps//a.txt" name the same file; absolute paths are
// stored without their leading slash.
type MemFS struct {
	mu    sync.RWMutex
	files fstest.MapFS
}

var _ FileSystem = (*MemFS)(nil)

// NewMemFS returns an empty MemFS.
func NewMemFS() *MemFS {
	return &MemFS{files: fstest.MapFS{}}
}

func memKey(name string) string {
	key := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(name)), "/")
	if key == "" {
		return "."
	}
	return key
}

// snapshot copies the tree so readers never see a later write.
func (m *MemFS) snapshot() fstest.MapFS {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(fstest.MapFS, len(m.files))
	for k, f := range m.files {
		cp := *f
		cp.Data = append([]byte(nil), f.Data...)
		out[k] = &cp
	}
	return out
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return m.snapshot().Open(memKey(name))
}

func (m *MemFS) ReadFile(name string) ([]byte, error) {
	return m.snapshot().ReadFile(memKey(name))
}

func (m *MemFS) Stat(name string) (fs.FileInfo, error) {
	return m.snapshot().Stat(memKey(name))
}

func (m *MemFS) Exists(name string) bool {
	_, err := m.Stat(name)
	return err == nil
}

func (m *MemFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[memKey(name)] = &fstest.MapFile{Data: append([]byte(nil), data...), Mode: perm}
	return nil
}

func (m *MemFS) AppendFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(name)
	f, ok := m.files[key]
	if !ok {
		f = &fstest.MapFile{Mode: perm}
		m.files[key] = f
	}
	if f.Mode.IsDir() {
		return &fs.PathError{Op: "append", Path: name, Err: fs.ErrInvalid}
	}
	f.Data = append(f.Data, data...)
	return nil
}

// MkdirAll records path as a directory. Parents are implied by MapFS.
func (m *MemFS) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(path)
	if key == "." {
		return nil
	}
	if f, ok := m.files[key]; ok && !f.Mode.IsDir() {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	m.files[key] = &fstest.MapFile{Mode: fs.ModeDir | perm}
	return nil
}
