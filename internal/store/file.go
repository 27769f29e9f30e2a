package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/facebookgo/atomicfile"
)

const (
	usersFile  = "admin-users.json"
	tokensFile = "admin-reset-tokens.json"
)

// FileStore keeps each collection in a JSON document under a data directory.
// Writes go to a temporary file that is renamed over the original, so a
// reader never observes a partial document.
//
// Serialization is per FileStore; open one per data directory per process.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store requires a data directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) ReadAdminUsers(ctx context.Context) ([]AdminUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []AdminUser
	err := s.readJSON(usersFile, &users)
	return users, err
}

func (s *FileStore) WriteAdminUsers(ctx context.Context, users []AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(usersFile, nonNil(users))
}

func (s *FileStore) ReadResetTokens(ctx context.Context) ([]ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []ResetToken
	err := s.readJSON(tokensFile, &tokens)
	return tokens, err
}

func (s *FileStore) WriteResetTokens(ctx context.Context, tokens []ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(tokensFile, nonNil(tokens))
}

func (s *FileStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &snapshot{}
	if err := s.readJSON(usersFile, &tx.users); err != nil {
		return err
	}
	if err := s.readJSON(tokensFile, &tx.tokens); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Users first: a crash between the two renames leaves an unconsumed
	// token for a password that already changed, which the expiry bounds.
	if tx.usersDirty {
		if err := s.writeJSON(usersFile, nonNil(tx.users)); err != nil {
			return err
		}
	}
	if tx.tokensDirty {
		if err := s.writeJSON(tokensFile, nonNil(tx.tokens)); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// readJSON decodes name into v. A missing file leaves v untouched.
func (s *FileStore) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return nil
}

func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	f, err := atomicfile.New(filepath.Join(s.dir, name), 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// nonNil keeps empty collections serialized as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
