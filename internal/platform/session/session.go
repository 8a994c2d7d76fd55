// Package session holds the per-visitor context shared by the wizard
// screens: who started the session and which wallet account it is bound
// to. It is loaded when a registration session starts and saved at the
// points where it changes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session context not found")

// Context is the explicit replacement for browser-persisted session flags.
type Context struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id,omitempty"`
	WalletAddress  string            `json:"wallet_address,omitempty"`
	WalletProvider string            `json:"wallet_provider,omitempty"`
	Flags          map[string]string `json:"flags,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	LastSeen       time.Time         `json:"last_seen"`
}

// WalletConnected reports whether an external account is bound.
func (c Context) WalletConnected() bool { return c.WalletAddress != "" }

// Store persists session contexts with a time-to-live.
type Store interface {
	Load(ctx context.Context, id string) (Context, error)
	Save(ctx context.Context, sc Context) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	sc      Context
	expires time.Time
}

// MemoryStore is a Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Context{}, ErrNotFound
	}
	if m.ttl > 0 && !m.now().Before(e.expires) {
		delete(m.entries, id)
		return Context{}, ErrNotFound
	}
	return clone(e.sc), nil
}

func (m *MemoryStore) Save(_ context.Context, sc Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sc.ID] = memoryEntry{sc: clone(sc), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func clone(sc Context) Context {
	if sc.Flags != nil {
		flags := make(map[string]string, len(sc.Flags))
		for k, v := range sc.Flags {
			flags[k] = v
		}
		sc.Flags = flags
	}
	return sc
}
