// Package gateway implements SessionGateway: the stateful HTTP front door
// that identifies a session, detects and rewrites follow-up questions using
// remembered conversational state, forwards to the Query API, and refreshes
// that state from the response (spec.md §4.11).
package gateway

import (
	"sync"
	"time"

	"github.com/seanblong/curricache/pkg/models"
)

// SessionStore is the persistence surface for per-session conversation
// state. The gateway binds an in-process TTL-map implementation; a shared
// KV-backed implementation (for multi-node deployments, see the
// SharedKVURL config knob) is left unimplemented, see DESIGN.md.
type SessionStore interface {
	Get(sessionID string) (models.ConversationState, bool)
	Put(sessionID string, state models.ConversationState, ttl time.Duration)
}

type entry struct {
	state   models.ConversationState
	expires time.Time
}

// MemStore is an in-process, mutex-protected TTL map.
type MemStore struct {
	mu   sync.Mutex
	data map[string]entry
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]entry)}
}

func (m *MemStore) Get(sessionID string) (models.ConversationState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[sessionID]
	if !ok || time.Now().After(e.expires) {
		delete(m.data, sessionID)
		return models.ConversationState{}, false
	}
	return e.state, true
}

func (m *MemStore) Put(sessionID string, state models.ConversationState, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionID] = entry{state: state, expires: time.Now().Add(ttl)}
}

var _ SessionStore = (*MemStore)(nil)
