package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the credential record in a pretty-printed JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the record from disk.
func (s *FileStore) Load(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Rotate re-reads the file under the store lock, applies fn and rewrites
// the file atomically when fn returns a token.
func (s *FileStore) Rotate(ctx context.Context, fn RotateFunc) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.read()
	if err != nil {
		return Credential{}, err
	}

	tok, err := fn(ctx, cred)
	if err != nil {
		return Credential{}, err
	}
	if tok == nil {
		return cred, nil
	}

	cred.AccessToken = *tok
	if err := s.write(cred); err != nil {
		return Credential{}, err
	}

	return cred, nil
}

// Save overwrites the file with cred.
func (s *FileStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cred)
}

func (s *FileStore) read() (Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return Credential{}, fmt.Errorf("read credentials %s: %w", s.path, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("parse credentials %s: %w", s.path, err)
	}

	return cred, nil
}

func (s *FileStore) write(cred Credential) error {
	data, err := json.MarshalIndent(cred, "", "    ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credentials %s: %w", s.path, err)
	}

	return nil
}
