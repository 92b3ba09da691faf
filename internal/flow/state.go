package flow

import (
	"sort"
	"sync"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// ConversationState tracks one chat's progress through the published flow.
// A state exists only while a flow is published and the conversation has not
// reached a terminal transition. The engine serializes all access; the
// timers it owns are the only parts touched from other goroutines.
type ConversationState struct {
	ChatID          string
	CurrentNodeID   string
	LastMessageTime time.Time
	InactivityTimer *Timer
	UpsellTimer     *Timer
	Awaiting        *models.AwaitingOption
}

// newConversationState creates a state positioned at the given node with
// both timers allocated but unarmed.
func newConversationState(chatID, nodeID string) *ConversationState {
	return &ConversationState{
		ChatID:          chatID,
		CurrentNodeID:   nodeID,
		LastMessageTime: time.Now(),
		InactivityTimer: NewTimer(),
		UpsellTimer:     NewTimer(),
	}
}

// cancelTimers stops both timers. Called on every path that destroys the
// state so no timer fires against a removed conversation.
func (s *ConversationState) cancelTimers() {
	s.InactivityTimer.Cancel()
	s.UpsellTimer.Cancel()
}

// StateStore holds the live conversation map. It is the single source of
// truth for which conversations exist.
type StateStore interface {
	// Get returns the state for a chat, or nil if none exists.
	Get(chatID string) *ConversationState
	// Upsert inserts or replaces the state for a chat.
	Upsert(state *ConversationState)
	// Delete removes the state for a chat if present.
	Delete(chatID string)
	// ForEach calls fn for every live state.
	ForEach(fn func(state *ConversationState))
	// Len returns the number of live states.
	Len() int
}

// MemoryStateStore is the in-memory StateStore used in production. The
// engine's own mutex serializes all mutations; the store's lock only guards
// the map itself.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*ConversationState
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*ConversationState)}
}

// Get returns the state for a chat, or nil.
func (m *MemoryStateStore) Get(chatID string) *ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[chatID]
}

// Upsert inserts or replaces the state for a chat.
func (m *MemoryStateStore) Upsert(state *ConversationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.ChatID] = state
}

// Delete removes the state for a chat if present.
func (m *MemoryStateStore) Delete(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, chatID)
}

// ForEach calls fn for every live state in sorted chat-id order, so callers
// iterating for broadcasts behave deterministically.
func (m *MemoryStateStore) ForEach(fn func(state *ConversationState)) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	states := make([]*ConversationState, 0, len(ids))
	for _, id := range ids {
		states = append(states, m.states[id])
	}
	m.mu.Unlock()

	for _, st := range states {
		fn(st)
	}
}

// Len returns the number of live states.
func (m *MemoryStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
