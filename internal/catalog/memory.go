package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// Memory is an in-process catalog, used by tests and the dev seed.
type Memory struct {
	mu       sync.RWMutex
	products map[string]Product
	combos   map[string]Combo
}

func NewMemory() *Memory {
	return &Memory{
		products: map[string]Product{},
		combos:   map[string]Combo{},
	}
}

func (m *Memory) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.products[p.ID] = p
}

func (m *Memory) PutCombo(c Combo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ComboItem, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	m.combos[c.ID] = c
}

// SetPrice changes a product's catalog price.
func (m *Memory) SetPrice(productID string, priceCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", apperr.ErrNotFound, productID)
	}
	p.PriceCents = priceCents
	p.UpdatedAt = time.Now().UTC()
	m.products[productID] = p
	return nil
}

func (m *Memory) Product(_ context.Context, productID string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %s", apperr.ErrNotFound, productID)
	}
	return p, nil
}

func (m *Memory) Combo(_ context.Context, comboID string) (Combo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.combos[comboID]
	if !ok {
		return Combo{}, fmt.Errorf("%w: combo %s", apperr.ErrNotFound, comboID)
	}
	items := make([]ComboItem, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	return c, nil
}

func (m *Memory) ListProducts(context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}
