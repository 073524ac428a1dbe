package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// ErrOrderCancelled is returned by ReserveAll when the order was cancelled
// before its stock could be reserved.
var ErrOrderCancelled = fmt.Errorf("%w: order already cancelled", apperr.ErrInvalidTransition)

// ReservationRepo holds per-order stock reservations. Both the inventory worker
// and the state machine (on cancel) write through it.
type ReservationRepo struct{ DB *pgxpool.Pool }

// AlreadyReserved reports whether itemCount products of the order are held.
func (r *ReservationRepo) AlreadyReserved(ctx context.Context, orderID string, itemCount int) (bool, error) {
	var held int
	if err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM reservations WHERE order_id = $1 AND status = 'RESERVED'`,
		orderID).Scan(&held); err != nil {
		return false, fmt.Errorf("%w: count reservations: %v", apperr.ErrUnavailable, err)
	}
	return held == itemCount, nil
}

// ReserveAll holds stock for every item or for none. The order row is locked
// first so a concurrent cancel waits for this transaction, or wins before it.
func (r *ReservationRepo) ReserveAll(ctx context.Context, orderID string, items []ItemQty) (bool, []StockRejectedDetail, error) {
	var shortages []StockRejectedDetail
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		if err := lockLiveOrder(ctx, tx, orderID); err != nil {
			return err
		}
		for _, it := range items {
			short, err := holdStock(ctx, tx, orderID, it)
			if err != nil {
				return err
			}
			if short != nil {
				shortages = append(shortages, *short)
			}
		}
		if len(shortages) > 0 {
			return errShortage
		}
		return nil
	})
	switch {
	case errors.Is(err, errShortage):
		return false, shortages, nil
	case err != nil:
		return false, nil, err
	}
	return true, nil, nil
}

var errShortage = errors.New("stock shortage")

func lockLiveOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	case err != nil:
		return fmt.Errorf("%w: lock order: %v", apperr.ErrUnavailable, err)
	case status == StatusCancelled:
		return ErrOrderCancelled
	}
	return nil
}

// holdStock returns a non-nil detail when the product cannot cover it.Qty.
func holdStock(ctx context.Context, tx pgx.Tx, orderID string, it ItemQty) (*StockRejectedDetail, error) {
	var stock int
	err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, it.ProductID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return &StockRejectedDetail{ProductID: it.ProductID, Required: it.Qty}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock product %s: %v", apperr.ErrUnavailable, it.ProductID, err)
	}
	if stock < it.Qty {
		return &StockRejectedDetail{ProductID: it.ProductID, Required: it.Qty, Available: stock}, nil
	}

	batch := &pgx.Batch{}
	batch.Queue(`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1`, it.ProductID, it.Qty)
	batch.Queue(`INSERT INTO reservations (order_id, product_id, qty, status)
	             VALUES ($1, $2, $3, 'RESERVED')
	             ON CONFLICT (order_id, product_id) DO NOTHING`, orderID, it.ProductID, it.Qty)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("%w: reserve %s: %v", apperr.ErrUnavailable, it.ProductID, err)
	}
	return nil, nil
}

// ReleaseAll puts every RESERVED quantity of the order back on the shelf and
// marks the rows RELEASED, so a second call finds nothing to release.
func (r *ReservationRepo) ReleaseAll(ctx context.Context, orderID string) error {
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE reservations SET status = 'RELEASED'
			WHERE order_id = $1 AND status = 'RESERVED'
			RETURNING product_id, qty`, orderID)
		if err != nil {
			return err
		}
		held, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ItemQty])
		if err != nil {
			return err
		}
		for _, it := range held {
			if _, err := tx.Exec(ctx,
				`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
				it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		return fmt.Errorf("%w: release order %s: %v", apperr.ErrUnavailable, orderID, err)
	}
	return err
}
