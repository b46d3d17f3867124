package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/taskmesh/core"
)

// FileStore keeps one markdown file per key inside a base directory. Writes
// go through a temp file, fsync and rename so a crash never leaves a
// partial value behind.
type FileStore struct {
	dir string
	ext string
}

var _ core.KVStore = (*FileStore)(nil)

// NewFileStore creates the base directory if needed and returns a store
// writing "<key>.md" files into it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}
	return &FileStore{dir: dir, ext: ".md"}, nil
}

// Get returns the file contents for key and whether the file exists.
func (s *FileStore) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// PutAtomic writes value for key via temp file + fsync + rename.
func (s *FileStore) PutAtomic(key, value string) error {
	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".taskmesh-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// No-ops once the rename succeeded.
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(value); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// Delete removes the file for key. A missing file is not an error.
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// path maps a key to a file name. Path separators in keys are flattened so
// a key can never escape the base directory.
func (s *FileStore) path(key string) string {
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_", "..", "_").Replace(key)
	return filepath.Join(s.dir, safe+s.ext)
}
