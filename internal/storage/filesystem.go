package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
)

// FilesystemStore stores one JSON file per key under a root directory:
// <root>/<key>.json. Writes go to a temp file first and are renamed into
// place so a crash never leaves a half-written value.
type FilesystemStore struct {
	root      string
	writeLock sync.Mutex
	closed    atomic.Bool
}

// NewFilesystemStore creates a filesystem backend rooted at root.
func NewFilesystemStore(root string) *FilesystemStore {
	return &FilesystemStore{root: root}
}

// Path returns the filesystem path for key.
func (s *FilesystemStore) Path(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(s.root, name+".json")
}

// GetItem reads the file for key.
func (s *FilesystemStore) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, classifyFSError(err)
	}
	return data, true, nil
}

// SetItem persists value atomically.
func (s *FilesystemStore) SetItem(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	path := s.Path(key)

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return classifyFSError(err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return classifyFSError(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return classifyFSError(err)
	}
	return nil
}

// RemoveItem deletes the file for key.
func (s *FilesystemStore) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyFSError(err)
	}
	return nil
}

// Close marks the store closed. Files stay on disk.
func (s *FilesystemStore) Close() error {
	s.closed.Store(true)
	return nil
}

func classifyFSError(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
