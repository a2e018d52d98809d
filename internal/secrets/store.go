// Package secrets stores the caller-supplied (BYOK) API key. The key is read
// from disk on every use inside a scoped callback and the buffer is zeroed
// afterwards; nothing is cached in memory between uses.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoKey is returned by With when no key has been stored.
var ErrNoKey = errors.New("secrets: no key stored")

// Store is a write-through credential store with scoped reads.
type Store interface {
	// With calls fn with the stored key. The slice is only valid inside fn.
	With(ctx context.Context, fn func(key []byte) error) error
	// Set replaces the stored key.
	Set(ctx context.Context, key []byte) error
	// Delete removes the stored key. Deleting a missing key is not an error.
	Delete(ctx context.Context) error
	// Has reports whether a key is stored.
	Has(ctx context.Context) (bool, error)
}

// FileStore keeps the key in a single 0600 file.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore returns a store backed by path. The file is created on Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// With reads the key, calls fn, and zeroes the buffer.
func (s *FileStore) With(ctx context.Context, fn func(key []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoKey
	}
	if err != nil {
		return fmt.Errorf("secrets: read key: %w", err)
	}
	defer clear(data)

	key := bytes.TrimSpace(data)
	if len(key) == 0 {
		return ErrNoKey
	}
	return fn(key)
}

// Set writes key atomically with 0600 permissions.
func (s *FileStore) Set(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(bytes.TrimSpace(key)) == 0 {
		return errors.New("secrets: key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("secrets: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".key-*")
	if err != nil {
		return fmt.Errorf("secrets: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: chmod: %w", err)
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("secrets: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("secrets: rename: %w", err)
	}
	return nil
}

// Delete removes the key file.
func (s *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("secrets: delete key: %w", err)
	}
	return nil
}

// Has reports whether a non-empty key is stored.
func (s *FileStore) Has(ctx context.Context) (bool, error) {
	err := s.With(ctx, func([]byte) error { return nil })
	if errors.Is(err, ErrNoKey) {
		return false, nil
	}
	return err == nil, err
}

var _ Store = (*FileStore)(nil)
