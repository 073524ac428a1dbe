package pricing

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
)

// PricedCart is derived from a snapshot on every read and never stored.
type PricedCart struct {
	Subtotal  int64  `json:"subtotal"`
	PromoCode string `json:"promo_code,omitempty"`
	Discount  int64  `json:"discount"`
	Total     int64  `json:"total"`
}

type Engine struct {
	promos PromoBook
}

func NewEngine(promos PromoBook) *Engine {
	if promos == nil {
		promos = StaticPromoBook{}
	}
	return &Engine{promos: promos}
}

// Price sums product and combo lines at their own unit prices; combo
// components do not count. An unrecognized code still returns the undiscounted
// cart alongside ErrInvalidPromoCode.
func (e *Engine) Price(snap cart.Snapshot, promoCode string) (PricedCart, error) {
	var out PricedCart
	for _, l := range snap.Products {
		out.Subtotal += l.LineTotal()
	}
	for _, l := range snap.Combos {
		out.Subtotal += l.LineTotal()
	}
	out.Total = out.Subtotal

	code := strings.TrimSpace(promoCode)
	if code == "" {
		return out, nil
	}
	promo, ok := e.promos.Lookup(code)
	if !ok {
		return out, fmt.Errorf("%w: %q", apperr.ErrInvalidPromoCode, code)
	}

	out.PromoCode = promo.Code
	out.Discount = out.Subtotal * promo.RateBasisPoints / 10_000
	out.Total = out.Subtotal - out.Discount
	if out.Total < 0 {
		out.Total = 0
	}
	return out, nil
}
