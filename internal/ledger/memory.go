package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process memory. Used by tests and by the
// "memory" backend for throwaway servers.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// FailSave, when set, is returned by Save without writing anything.
	FailSave error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, docs ...Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	for _, d := range docs {
		body := make([]byte, len(d.Body))
		copy(body, d.Body)
		m.docs[d.Key] = body
	}
	return nil
}

// Put seeds a raw document, bypassing FailSave.
func (m *MemoryStore) Put(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), body...)
}
