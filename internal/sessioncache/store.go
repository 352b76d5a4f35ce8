package sessioncache

import (
	"errors"
	"os"
	"path/filepath"
)

// Store abstracts the key-value storage holding the identity provider's
// persisted session blob. The browser app keeps the same blob in localStorage;
// this side only ever parses what the provider's client library wrote.
type Store interface {
	// Get returns the raw blob for key. ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set writes the raw blob for key.
	Set(key string, value []byte) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
}

// FileStore is a Store backed by one file per key under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("sessioncache: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Get returns the blob stored for key, or ok false when the file does not exist.
func (s *FileStore) Get(key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Set writes the blob for key.
func (s *FileStore) Set(key string, value []byte) error {
	return os.WriteFile(s.path(key), value, 0o600)
}

// Delete removes the blob for key.
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// MemoryStore is an in-memory Store for tests and embedded use.
type MemoryStore struct {
	m map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

// Get returns the blob stored for key.
func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	v, ok := s.m[key]
	return v, ok, nil
}

// Set writes the blob for key.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.m[key] = value
	return nil
}

// Delete removes the blob for key.
func (s *MemoryStore) Delete(key string) error {
	delete(s.m, key)
	return nil
}
