package cart

import (
	"context"
	"sync"
)

// Store persists carts keyed by customer identity. Load of an unknown
// customer returns an empty cart, not an error.
type Store interface {
	Load(ctx context.Context, customerID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, customerID string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]*Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: map[string]*Cart{}}
}

func (m *MemoryStore) Load(_ context.Context, customerID string) (*Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.carts[customerID]; ok {
		return c.clone(), nil
	}
	return New(customerID), nil
}

func (m *MemoryStore) Save(_ context.Context, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.CustomerID] = c.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, customerID)
	return nil
}
