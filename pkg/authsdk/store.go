package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage key suffixes. A downstream app named "geomap" stores its pair under
// "geomap-auth-token" and "geomap-refresh-token", which keeps multiple apps
// sharing one store from clobbering each other.
const (
	AccessTokenKeySuffix  = "-auth-token"
	RefreshTokenKeySuffix = "-refresh-token"
)

// AccessTokenKey returns the storage key for app's access token.
func AccessTokenKey(app string) string { return app + AccessTokenKeySuffix }

// RefreshTokenKey returns the storage key for app's refresh token.
func RefreshTokenKey(app string) string { return app + RefreshTokenKeySuffix }

// TokenStore persists a token pair between page loads. Implementations must
// be safe for concurrent use.
type TokenStore interface {
	// Tokens returns the stored pair. Missing slots come back as empty
	// strings, not errors.
	Tokens() (accessToken, refreshToken string, err error)

	// SetTokens stores the pair, replacing whatever was there.
	SetTokens(accessToken, refreshToken string) error

	// Clear removes both slots.
	Clear() error
}

// MemoryTokenStore keeps tokens in process memory. Suitable for tests and
// short-lived CLI sessions.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	values map[string]string
	app    string
}

// NewMemoryTokenStore creates an empty in-memory store for the named app.
func NewMemoryTokenStore(app string) *MemoryTokenStore {
	return &MemoryTokenStore{
		values: make(map[string]string, 2),
		app:    app,
	}
}

func (s *MemoryTokenStore) Tokens() (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[AccessTokenKey(s.app)], s.values[RefreshTokenKey(s.app)], nil
}

func (s *MemoryTokenStore) SetTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[AccessTokenKey(s.app)] = accessToken
	s.values[RefreshTokenKey(s.app)] = refreshToken
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, AccessTokenKey(s.app))
	delete(s.values, RefreshTokenKey(s.app))
	return nil
}

// FileTokenStore persists tokens to a JSON file so sessions survive process
// restarts. The file is written with 0600 permissions.
type FileTokenStore struct {
	mu   sync.Mutex
	app  string
	path string
}

// NewFileTokenStore creates a store for the named app backed by the file at
// path. The file is created lazily on first SetTokens.
func NewFileTokenStore(app, path string) *FileTokenStore {
	return &FileTokenStore{app: app, path: filepath.Clean(path)}
}

func (s *FileTokenStore) Tokens() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", "", err
	}
	return values[AccessTokenKey(s.app)], values[RefreshTokenKey(s.app)], nil
}

func (s *FileTokenStore) SetTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[AccessTokenKey(s.app)] = accessToken
	values[RefreshTokenKey(s.app)] = refreshToken
	return s.write(values)
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	delete(values, AccessTokenKey(s.app))
	delete(values, RefreshTokenKey(s.app))
	return s.write(values)
}

func (s *FileTokenStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string, 2), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token store: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode token store: %w", err)
	}
	return values, nil
}

func (s *FileTokenStore) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode token store: %w", err)
	}

	// Write-then-rename so a crash mid-write can't truncate the store.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}
