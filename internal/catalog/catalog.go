package catalog

import (
	"context"
	"time"
)

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Stock      int       `json:"stock"`
	PriceCents int64     `json:"price_cents"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ComboItem struct {
	ProductID string
	Qty       int
	Position  int
}

type Combo struct {
	ID         string
	Name       string
	PriceCents int64
	Enabled    bool
	Items      []ComboItem
}

// Source is the read side of the product catalog.
// Lookups of an absent id return an error wrapping apperr.ErrNotFound.
type Source interface {
	Product(ctx context.Context, productID string) (Product, error)
	Combo(ctx context.Context, comboID string) (Combo, error)
	ListProducts(ctx context.Context) ([]Product, error)
}
