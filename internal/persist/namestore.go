// Package persist stores the last successfully joined display name so a
// session can be resumed silently on the next start.
package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NameStore is the durable key/value surface the session controller
// depends on. Absence of a value means there is no prior session.
type NameStore interface {
	// Get returns the remembered name, or "" when none is stored.
	Get() (string, error)
	// Set remembers the name.
	Set(name string) error
	// Remove forgets the name. Removing an absent name is not an error.
	Remove() error
}

const nameFile = "display_name"

// FileStore keeps the name in a small file under a state directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir. The directory
// is created lazily on first Set.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultDir returns the per-user state directory for the client.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, "deduction"), nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, nameFile)
}

// Get implements NameStore.
func (s *FileStore) Get() (string, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read stored name: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Set implements NameStore.
func (s *FileStore) Set(name string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(s.path(), []byte(name+"\n"), 0o600); err != nil {
		return fmt.Errorf("store name: %w", err)
	}
	return nil
}

// Remove implements NameStore.
func (s *FileStore) Remove() error {
	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stored name: %w", err)
	}
	return nil
}

// MemStore is an in-memory NameStore for tests.
type MemStore struct {
	mu   sync.Mutex
	name string
}

// Get implements NameStore.
func (s *MemStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, nil
}

// Set implements NameStore.
func (s *MemStore) Set(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	return nil
}

// Remove implements NameStore.
func (s *MemStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = ""
	return nil
}
