package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// Postgres reads the catalog from the products, combos and combo_items tables.
// Concurrent lookups of the same id share one query.
type Postgres struct {
	DB  *pgxpool.Pool
	sfg singleflight.Group
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db}
}

func (s *Postgres) Product(ctx context.Context, productID string) (Product, error) {
	v, err, _ := s.sfg.Do("product:"+productID, func() (interface{}, error) {
		var p Product
		err := s.DB.QueryRow(ctx, `SELECT id, sku, name, stock, price_cents, enabled, created_at, updated_at
		                           FROM products WHERE id=$1`, productID).
			Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", apperr.ErrNotFound, productID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: query product: %v", apperr.ErrUnavailable, err)
		}
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

func (s *Postgres) Combo(ctx context.Context, comboID string) (Combo, error) {
	v, err, _ := s.sfg.Do("combo:"+comboID, func() (interface{}, error) {
		var c Combo
		err := s.DB.QueryRow(ctx, `SELECT id, name, price_cents, enabled FROM combos WHERE id=$1`, comboID).
			Scan(&c.ID, &c.Name, &c.PriceCents, &c.Enabled)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: combo %s", apperr.ErrNotFound, comboID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: query combo: %v", apperr.ErrUnavailable, err)
		}

		rows, err := s.DB.Query(ctx, `SELECT product_id, qty, position FROM combo_items
		                              WHERE combo_id=$1 ORDER BY position, product_id`, comboID)
		if err != nil {
			return nil, fmt.Errorf("%w: query combo items: %v", apperr.ErrUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			var it ComboItem
			if err := rows.Scan(&it.ProductID, &it.Qty, &it.Position); err != nil {
				return nil, fmt.Errorf("%w: scan combo item: %v", apperr.ErrUnavailable, err)
			}
			c.Items = append(c.Items, it)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: combo items: %v", apperr.ErrUnavailable, err)
		}
		return c, nil
	})
	if err != nil {
		return Combo{}, err
	}
	// shared result; hand each caller its own items slice
	c := v.(Combo)
	items := make([]ComboItem, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	return c, nil
}

func (s *Postgres) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, sku, name, stock, price_cents, enabled, created_at, updated_at
                                FROM products ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("%w: list products: %v", apperr.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan product: %v", apperr.ErrUnavailable, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list products: %v", apperr.ErrUnavailable, err)
	}
	return out, nil
}
