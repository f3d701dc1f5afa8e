package store

import (
	"context"
	"sync"
)

// Memory keeps chats in process memory. Records are copied on the way in and
// out so callers never share slices with the store.
type Memory struct {
	mu    sync.RWMutex
	chats map[string]Chat
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{chats: make(map[string]Chat)}
}

func (m *Memory) Get(_ context.Context, id string) (Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return cloneChat(c), nil
}

func (m *Memory) Put(_ context.Context, chat Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chat.ID] = cloneChat(chat)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, id)
	return nil
}

func (m *Memory) List(_ context.Context) ([]Chat, error) {
	m.mu.RLock()
	out := make([]Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, cloneChat(c))
	}
	m.mu.RUnlock()

	sortByLastUpdated(out)
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.chats)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
