package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// Component is one product line inside a combo, priced at resolution time.
type Component struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Resolution struct {
	ComboID    string      `json:"combo_id"`
	UnitPrice  int64       `json:"unit_price"`
	Components []Component `json:"components"`
}

// Resolver expands combos into their component products. It never writes.
type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the combo's bundle price and its components ordered by
// position, then product id. Disabled combos, and combos containing a
// disabled or missing product, resolve as not found.
func (r *Resolver) Resolve(ctx context.Context, comboID string) (Resolution, error) {
	comboID = strings.TrimSpace(comboID)
	if comboID == "" {
		return Resolution{}, fmt.Errorf("%w: combo id is required", apperr.ErrNotFound)
	}
	combo, err := r.src.Combo(ctx, comboID)
	if err != nil {
		return Resolution{}, err
	}
	if !combo.Enabled {
		return Resolution{}, fmt.Errorf("%w: combo %s is disabled", apperr.ErrNotFound, comboID)
	}
	if len(combo.Items) == 0 {
		return Resolution{}, fmt.Errorf("%w: combo %s has no items", apperr.ErrNotFound, comboID)
	}

	items := make([]ComboItem, len(combo.Items))
	copy(items, combo.Items)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ProductID < items[j].ProductID
	})

	out := Resolution{
		ComboID:    combo.ID,
		UnitPrice:  combo.PriceCents,
		Components: make([]Component, 0, len(items)),
	}
	for _, it := range items {
		p, err := r.src.Product(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return Resolution{}, fmt.Errorf("%w: combo %s references missing product %s", apperr.ErrNotFound, comboID, it.ProductID)
			}
			return Resolution{}, err
		}
		if !p.Enabled {
			return Resolution{}, fmt.Errorf("%w: combo %s references disabled product %s", apperr.ErrNotFound, comboID, it.ProductID)
		}
		out.Components = append(out.Components, Component{
			ProductID: it.ProductID,
			Quantity:  it.Qty,
			UnitPrice: p.PriceCents,
		})
	}
	return out, nil
}
