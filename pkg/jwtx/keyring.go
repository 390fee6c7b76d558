package jwtx

import (
	"errors"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// Keyring holds the HMAC secrets a verifier will accept, keyed by kid.
// It's thread-safe, so the identity service (which signs) and handlers that
// only verify can share one instance. Keeping retired secrets in the ring for
// a grace period lets already-issued tokens survive a secret rotation.
type Keyring struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewKeyring returns an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{
		secrets: make(map[string][]byte),
	}
}

// Add registers a secret under the given kid. Empty secrets are rejected.
func (k *Keyring) Add(kid string, secret []byte) error {
	if kid == "" {
		return errors.New("jwtx: empty kid")
	}
	if len(secret) == 0 {
		return errors.New("jwtx: empty secret")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[kid] = secret
	return nil
}

// Get returns the secret for the given kid.
func (k *Keyring) Get(kid string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if s, ok := k.secrets[kid]; ok {
		return s, nil
	}
	return nil, ErrNoKey
}

// Remove drops a retired secret from the ring.
func (k *Keyring) Remove(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.secrets, kid)
}

// IsReady returns true if the Keyring has at least one secret loaded.
func (k *Keyring) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.secrets) > 0
}
