package orders

import (
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
)

type Recipient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Address struct {
	Line1    string `json:"line1"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city"`
}

// Order is immutable after creation except for Status, PaymentStatus,
// PaymentRef and CancellationReason, which only StateMachine changes.
type Order struct {
	ID                 string        `json:"id"`
	CustomerID         string        `json:"customer_id"`
	Recipient          Recipient     `json:"recipient"`
	ShippingAddress    Address       `json:"shipping_address"`
	Lines              cart.Lines    `json:"lines"`
	Subtotal           int64         `json:"subtotal"`
	PromoCode          string        `json:"promo_code,omitempty"`
	Discount           int64         `json:"discount"`
	Total              int64         `json:"total"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	PaymentRef         string        `json:"payment_ref,omitempty"`
	Status             Status        `json:"status"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	Version            int64         `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (o Order) Clone() Order {
	o.Lines = o.Lines.Clone()
	return o
}

type Summary struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	RecipientName string        `json:"recipient_name"`
	Status        Status        `json:"status"`
	StatusLabel   string        `json:"status_label"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Total         int64         `json:"total"`
	LineCount     int           `json:"line_count"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (o Order) Summary() Summary {
	return Summary{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		RecipientName: o.Recipient.Name,
		Status:        o.Status,
		StatusLabel:   o.Status.Label(),
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		LineCount:     len(o.Lines),
		CreatedAt:     o.CreatedAt,
	}
}
