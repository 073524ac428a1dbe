package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// MemoryRepo keeps orders in process; each read and write is a deep copy.
type MemoryRepo struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{orders: map[string]Order{}}
}

func (r *MemoryRepo) Insert(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s already exists", apperr.ErrInvalidInput, o.ID)
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, orderID string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ApplyChange(_ context.Context, ch StatusChange) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[ch.OrderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, ch.OrderID)
	}
	if o.Status != ch.FromStatus || o.Version != ch.FromVersion {
		return Order{}, fmt.Errorf("%w: order %s is %s v%d, expected %s v%d",
			apperr.ErrConcurrentModification, o.ID, o.Status, o.Version, ch.FromStatus, ch.FromVersion)
	}
	o.Status = ch.ToStatus
	o.PaymentStatus = ch.PaymentStatus
	o.PaymentRef = ch.PaymentRef
	o.CancellationReason = ch.CancellationReason
	o.Version++
	o.UpdatedAt = ch.At
	r.orders[o.ID] = o
	return o.Clone(), nil
}
