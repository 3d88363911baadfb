// Package storage persists the one artifact the client keeps across runs: the
// auth token.
package storage

import (
	"errors"
	"sync"
)

// TokenKey is the fixed key the token is stored under.
const TokenKey = "token"

// ErrNotFound is returned by Load when no token has been saved.
var ErrNotFound = errors.New("token not found")

// TokenStore is a small key-value store holding the auth token.
type TokenStore interface {
	// Load returns the stored token or ErrNotFound.
	Load() (string, error)
	// Save replaces the stored token.
	Save(token string) error
	// Delete removes the stored token. Deleting a missing token is not an
	// error.
	Delete() error
}

// MemoryStore keeps the token in process memory only.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

var _ TokenStore = (*MemoryStore)(nil)

// NewMemoryStore returns a store seeded with token (empty = nothing stored).
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Load implements TokenStore.
func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNotFound
	}
	return m.token, nil
}

// Save implements TokenStore.
func (m *MemoryStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Delete implements TokenStore.
func (m *MemoryStore) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
