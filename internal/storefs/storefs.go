// Package storefs provides serialized file access for the user directory and
// password history logs. All reads and writes for a given path go through a
// per-path mutex, and full rewrites are atomic (temp file + rename) so a
// record is never observably half-written.
package storefs

import (
	"os"
	"path/filepath"
	"sync"
)

var globalMu sync.Mutex
var fileMu = map[string]*sync.Mutex{}

func muFor(path string) *sync.Mutex {
	globalMu.Lock()
	defer globalMu.Unlock()
	if m := fileMu[path]; m != nil {
		return m
	}
	m := &sync.Mutex{}
	fileMu[path] = m
	return m
}

func ReadFile(path string) ([]byte, error) {
	m := muFor(path)
	m.Lock()
	defer m.Unlock()
	return os.ReadFile(path)
}

// WriteFileAtomic replaces path with data by writing a temporary file in the
// same directory, syncing it, and renaming it over the target.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	m := muFor(path)
	m.Lock()
	defer m.Unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".plainauth-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// AppendLine appends data to path under the path's lock, creating the file
// if it does not exist. The caller supplies the trailing newline.
func AppendLine(path string, data []byte, perm os.FileMode) error {
	m := muFor(path)
	m.Lock()
	defer m.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func EnsureDir(path string, perm os.FileMode) error {
	m := muFor(path)
	m.Lock()
	defer m.Unlock()
	return os.MkdirAll(path, perm)
}
