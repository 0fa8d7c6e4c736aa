package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CredentialStore holds the bearer token between calls.
type CredentialStore interface {
	Token() (string, bool)
	SetToken(token string) error
	ClearToken() error
}

// MemoryCredentials keeps the token in memory.
type MemoryCredentials struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryCredentials) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

func (m *MemoryCredentials) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryCredentials) ClearToken() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// credentialsFile is the on-disk layout of FileCredentials.
type credentialsFile struct {
	Token   string    `yaml:"token"`
	SavedAt time.Time `yaml:"saved_at"`
}

// FileCredentials persists the token as YAML readable only by the owner.
type FileCredentials struct {
	path string

	mu    sync.Mutex
	token string
}

// OpenFileCredentials loads the token from path. A missing file is an empty
// store.
func OpenFileCredentials(path string) (*FileCredentials, error) {
	fc := &FileCredentials{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var f credentialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	fc.token = f.Token
	return fc, nil
}

// Path returns the backing file.
func (f *FileCredentials) Path() string { return f.path }

func (f *FileCredentials) Token() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *FileCredentials) SetToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(credentialsFile{Token: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	f.token = token
	return nil
}

func (f *FileCredentials) ClearToken() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
