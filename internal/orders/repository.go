package orders

import (
	"context"
	"time"
)

type ListFilter struct {
	Status     *Status
	CustomerID string
	Limit      int
}

// StatusChange is a compare-and-set against an order's mutable fields. It is
// applied only while the stored order still has FromStatus and FromVersion.
type StatusChange struct {
	OrderID            string
	FromStatus         Status
	FromVersion        int64
	ToStatus           Status
	PaymentStatus      PaymentStatus
	PaymentRef         string
	CancellationReason string
	At                 time.Time
}

// Repository persists orders. ApplyChange returns an error wrapping
// apperr.ErrConcurrentModification when the guard does not match and
// apperr.ErrNotFound when the order does not exist.
type Repository interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	ApplyChange(ctx context.Context, ch StatusChange) (Order, error)
}

const defaultListLimit = 100
