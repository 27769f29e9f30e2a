// Package keys manages the secret that signs admin session cookies.
//
// The secret is resolved once at startup, in order:
//   - the configured value (session_secret / BRANDGALLERY_SESSION_SECRET)
//   - the contents of <data-dir>/admin-session-secret
//   - 32 fresh random bytes, hex-encoded, persisted to that file with mode 0600
//
// A generated secret is on disk before LoadOrCreate returns, so no cookie is
// ever signed with a value that could be lost on restart. Concurrent first
// runs converge on whichever process linked its file into place first.
//
// Rotating the secret invalidates every outstanding session:
//
//	brandgallery keys rotate
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/facebookgo/atomicfile"
)

const (
	// SecretFile is the file name under the data directory.
	SecretFile = "admin-session-secret"

	// SecretBytes is the amount of randomness in a generated secret.
	SecretBytes = 32
)

// ErrEmptySecret is returned when the secret file exists but holds nothing.
var ErrEmptySecret = errors.New("session secret file is empty")

// Source records where a secret came from.
type Source string

const (
	SourceConfig    Source = "config"
	SourceFile      Source = "file"
	SourceGenerated Source = "generated"
)

// Secret is a resolved signing secret.
type Secret struct {
	Value  string
	Source Source
	Path   string // file backing the secret; empty for SourceConfig
}

// LoadOrCreate resolves the signing secret for dataDir. A non-empty
// configured value wins and is never written to disk.
func LoadOrCreate(dataDir, configured string) (*Secret, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return &Secret{Value: v, Source: SourceConfig}, nil
	}

	path := filepath.Join(dataDir, SecretFile)
	if v, err := readSecret(path); err == nil {
		return &Secret{Value: v, Source: SourceFile, Path: path}, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	value, err := generate()
	if err != nil {
		return nil, err
	}

	won, err := createExclusive(path, value)
	if err != nil {
		return nil, err
	}
	if !won {
		// another process created the file first; use its value
		v, err := readSecret(path)
		if err != nil {
			return nil, err
		}
		return &Secret{Value: v, Source: SourceFile, Path: path}, nil
	}
	return &Secret{Value: value, Source: SourceGenerated, Path: path}, nil
}

// Rotate replaces the persisted secret with a fresh one. Running servers keep
// the old value until restarted.
func Rotate(dataDir string) (*Secret, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	value, err := generate()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dataDir, SecretFile)
	f, err := atomicfile.New(path, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret file: %w", err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Abort()
		return nil, fmt.Errorf("failed to write secret file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to replace secret file: %w", err)
	}
	return &Secret{Value: value, Source: SourceGenerated, Path: path}, nil
}

func generate() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptySecret, path)
	}
	return v, nil
}

// createExclusive writes value to a private temp file and hard-links it to
// path, which fails if path already exists. The file at path is therefore
// never observed partially written. It reports false if another writer won.
func createExclusive(path, value string) (bool, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+SecretFile+"-*")
	if err != nil {
		return false, fmt.Errorf("failed to create secret file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to restrict secret file: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write secret file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to sync secret file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to write secret file: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to persist secret file: %w", err)
	}
	return true, nil
}
