package store

import (
	"context"
	"sync"

	"github.com/effective-security/mcphub/pkg/llms"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string][]llms.Message
}

// NewMemoryStore returns an in-memory message store.
func NewMemoryStore() MessageStore {
	return &inMemory{}
}

func (m *inMemory) Messages(_ context.Context, sessionID string) []llms.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.storage == nil {
		return nil
	}
	return append([]llms.Message(nil), m.storage[sessionID]...)
}

func (m *inMemory) Add(_ context.Context, sessionID string, msgs ...llms.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string][]llms.Message)
	}
	list := append(m.storage[sessionID], msgs...)
	if len(list) > MaxMessages {
		list = list[len(list)-MaxMessages:]
	}
	m.storage[sessionID] = list
	return nil
}

func (m *inMemory) Reset(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage != nil {
		delete(m.storage, sessionID)
	}
	return nil
}
