package chat

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Manager keeps the open chats by id.
type Manager struct {
	cfg Config

	mu    sync.RWMutex
	chats map[string]*Context
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, chats: make(map[string]*Context)}
}

func (m *Manager) Create() *Context {
	c := New(m.cfg)
	m.mu.Lock()
	m.chats[c.ID()] = c
	m.mu.Unlock()
	return c
}

func (m *Manager) Get(id string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// IDs returns the open chat ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.chats))
	for id := range m.chats {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Delete closes the chat and forgets it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	c, ok := m.chats[id]
	delete(m.chats, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Close()
}

// StopUsing stops every chat generating from modelPath. It is used before a
// model file is replaced or removed.
func (m *Manager) StopUsing(modelPath string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chats {
		if d, ok := c.Model(); ok && d.ModelPath == modelPath {
			c.Stop()
		}
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	chats := m.chats
	m.chats = make(map[string]*Context)
	m.mu.Unlock()

	var errs []error
	for _, c := range chats {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
