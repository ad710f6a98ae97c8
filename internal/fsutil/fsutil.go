// Package fsutil abstracts the filesystem used for rosters, replays and race
// reports so they can be exercised in memory.
package fsutil

import (
	"io/fs"
	"os"
)

// FileSystem is the subset of file operations the station performs.
type FileSystem interface {
	Open(name string) (fs.File, error)
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
	Exists(name string) bool

	WriteFile(name string, data []byte, perm os.FileMode) error
	// AppendFile creates the file when missing.
	AppendFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
}

// Disk is the FileSystem of the host.
type Disk struct{}

var _ FileSystem = Disk{}

func (Disk) Open(name string) (fs.File, error)     { return os.Open(name) }
func (Disk) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (Disk) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (Disk) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (Disk) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (Disk) AppendFile(name string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (Disk) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
