package orders

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventOrderApproved   = "OrderApproved"
	EventOrderCancelled  = "OrderCancelled"
	EventOrderCompleted  = "OrderCompleted"
	EventPaymentRecorded = "PaymentRecorded"
	EventStockReserved   = "StockReserved"
	EventStockRejected   = "StockRejected"
)

// Event is a lifecycle notification handed to a Notifier after the change
// has been persisted.
type Event struct {
	Type           string
	Order          Order
	PreviousStatus Status
	ActorID        string
	OccurredAt     time.Time
}

// Notifier delivers lifecycle events to customers and downstream services.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "storefront-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload per event ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	Items         []ItemQty     `json:"items"`
	TotalCents    int64         `json:"total_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

type OrderStatusChangedPayload struct {
	OrderID        string        `json:"order_id"`
	CustomerID     string        `json:"customer_id"`
	PreviousStatus Status        `json:"previous_status"`
	Status         Status        `json:"status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	Reason         string        `json:"reason,omitempty"`
	Version        int64         `json:"version"`
	ActorID        string        `json:"actor_id,omitempty"`
}

// OrderCompletedPayload feeds payment reconciliation; AwaitingPayment is set
// for orders that completed while still unpaid (cash on delivery).
type OrderCompletedPayload struct {
	OrderID         string        `json:"order_id"`
	CustomerID      string        `json:"customer_id"`
	TotalCents      int64         `json:"total_cents"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	AwaitingPayment bool          `json:"awaiting_payment"`
}

type StockReservedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

type StockRejectedDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type StockRejectedPayload struct {
	OrderID string                `json:"order_id"`
	Reason  string                `json:"reason"` // e.g., OUT_OF_STOCK
	Details []StockRejectedDetail `json:"details,omitempty"`
}

// StockDemand flattens order lines into per-product quantities. Combo lines
// contribute quantity × component quantity for each component. The result is
// sorted by product id, so row locks are always taken in the same order.
func StockDemand(lines cart.Lines) []ItemQty {
	byProduct := map[string]int{}
	for _, l := range lines {
		switch v := l.(type) {
		case cart.ProductLine:
			byProduct[v.ProductID] += v.Quantity
		case cart.ComboLine:
			for _, c := range v.Components {
				byProduct[c.ProductID] += v.Quantity * c.Quantity
			}
		}
	}
	out := make([]ItemQty, 0, len(byProduct))
	for id, qty := range byProduct {
		out = append(out, ItemQty{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
