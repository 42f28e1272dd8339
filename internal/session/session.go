// Package session exposes the logged-in user's identity from a persistent
// key-value store, the server-side counterpart of browser localStorage.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"billed/internal/core"
)

// Keys written by the login flow.
const (
	KeyUser = "user"
	KeyJWT  = "jwt"
)

var ErrNoSession = errors.New("no active session")

// KeyValue is the persistent key-value storage holding session data.
type KeyValue interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string)
	RemoveItem(key string)
}

// Identity is the current user as seen by the bill components. It is passed
// explicitly to them instead of being looked up from ambient storage.
type Identity struct {
	Email string
	Type  core.UserType
	Token string
}

// Load reads the "user" entry (JSON {email, type}) and the optional jwt.
func Load(kv KeyValue) (Identity, error) {
	raw, ok := kv.GetItem(KeyUser)
	if !ok || strings.TrimSpace(raw) == "" {
		return Identity{}, ErrNoSession
	}
	var u core.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return Identity{}, fmt.Errorf("decode session user: %w", err)
	}
	if strings.TrimSpace(u.Email) == "" {
		return Identity{}, ErrNoSession
	}
	token, _ := kv.GetItem(KeyJWT)
	return Identity{Email: u.Email, Type: u.Type, Token: token}, nil
}

// Save writes the user entry and token the way Load expects them.
func Save(kv KeyValue, id Identity) error {
	raw, err := json.Marshal(core.User{Email: id.Email, Type: id.Type})
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}
	kv.SetItem(KeyUser, string(raw))
	if id.Token != "" {
		kv.SetItem(KeyJWT, id.Token)
	}
	return nil
}

// Clear drops every session key.
func Clear(kv KeyValue) {
	kv.RemoveItem(KeyUser)
	kv.RemoveItem(KeyJWT)
}

// MemoryStore is a map-backed KeyValue.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (m *MemoryStore) GetItem(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStore) SetItem(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *MemoryStore) RemoveItem(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}
