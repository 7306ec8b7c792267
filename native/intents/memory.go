package intents

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryState is the in-memory State implementation used by tests and by
// nodes running without a persistent store.
type MemoryState struct {
	mu       sync.RWMutex
	intents  map[IntentID]*Intent
	sequence uint64
}

// NewMemoryState constructs an empty in-memory intent state.
func NewMemoryState() *MemoryState {
	return &MemoryState{intents: make(map[IntentID]*Intent)}
}

// IntentPut stores a copy of the intent.
func (m *MemoryState) IntentPut(intent *Intent) error {
	if intent == nil {
		return ErrIntentNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.ID] = intent.Clone()
	return nil
}

// IntentGet returns a copy of the stored intent.
func (m *MemoryState) IntentGet(id IntentID) (*Intent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, false, nil
	}
	return intent.Clone(), true, nil
}

// IntentDelete removes the intent if present.
func (m *MemoryState) IntentDelete(id IntentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, id)
	return nil
}

// IntentAscend visits stored intents in id (therefore deadline) order.
func (m *MemoryState) IntentAscend(visit func(*Intent) bool) error {
	m.mu.RLock()
	ids := make([]IntentID, 0, len(m.intents))
	for id := range m.intents {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	for _, id := range ids {
		m.mu.RLock()
		intent, ok := m.intents[id]
		if ok {
			intent = intent.Clone()
		}
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if !visit(intent) {
			return nil
		}
	}
	return nil
}

// NextSequence returns a monotonically increasing sequence number.
func (m *MemoryState) NextSequence() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence++
	return m.sequence, nil
}
