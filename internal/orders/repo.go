package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
)

// Repo is the postgres Repository. Lines are stored denormalized as JSONB;
// an order never references the cart it was created from.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, customer_id, recipient_name, recipient_phone,
	addr_line1, addr_ward, addr_district, addr_city, lines,
	subtotal_cents, promo_code, discount_cents, total_cents,
	payment_method, payment_status, payment_ref, status, cancellation_reason,
	version, created_at, updated_at`

func (r *Repo) Insert(ctx context.Context, o Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		o.ID, o.CustomerID, o.Recipient.Name, o.Recipient.Phone,
		o.ShippingAddress.Line1, o.ShippingAddress.Ward, o.ShippingAddress.District, o.ShippingAddress.City,
		json.RawMessage(lines),
		o.Subtotal, o.PromoCode, o.Discount, o.Total,
		string(o.PaymentMethod), string(o.PaymentStatus), o.PaymentRef, string(o.Status), o.CancellationReason,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: order %s already exists", apperr.ErrInvalidInput, o.ID)
		}
		return fmt.Errorf("%w: insert order: %v", apperr.ErrUnavailable, err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	}
	if err != nil {
		return Order{}, wrapScanErr(err)
	}
	return o, nil
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", apperr.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, wrapScanErr(err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", apperr.ErrUnavailable, err)
	}
	return out, nil
}

// ApplyChange bumps version only when status and version still match; a
// concurrent writer that got there first makes the UPDATE match zero rows.
func (r *Repo) ApplyChange(ctx context.Context, ch StatusChange) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders
		   SET status=$4, payment_status=$5, payment_ref=$6, cancellation_reason=$7,
		       version=version+1, updated_at=$8
		 WHERE id=$1 AND status=$2 AND version=$3
		RETURNING `+orderColumns,
		ch.OrderID, string(ch.FromStatus), ch.FromVersion,
		string(ch.ToStatus), string(ch.PaymentStatus), ch.PaymentRef, ch.CancellationReason, ch.At,
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, wrapScanErr(err)
	}

	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, ch.OrderID).Scan(&exists); err != nil {
		return Order{}, fmt.Errorf("%w: check order: %v", apperr.ErrUnavailable, err)
	}
	if !exists {
		return Order{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, ch.OrderID)
	}
	return Order{}, fmt.Errorf("%w: order %s changed since %s v%d",
		apperr.ErrConcurrentModification, ch.OrderID, ch.FromStatus, ch.FromVersion)
}

type linesDecodeError struct{ err error }

func (e linesDecodeError) Error() string { return "decode order lines: " + e.err.Error() }
func (e linesDecodeError) Unwrap() error { return e.err }

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                         Order
		lines                     []byte
		method, payStatus, status string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Recipient.Name, &o.Recipient.Phone,
		&o.ShippingAddress.Line1, &o.ShippingAddress.Ward, &o.ShippingAddress.District, &o.ShippingAddress.City,
		&lines,
		&o.Subtotal, &o.PromoCode, &o.Discount, &o.Total,
		&method, &payStatus, &o.PaymentRef, &status, &o.CancellationReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.PaymentMethod = PaymentMethod(method)
	o.PaymentStatus = PaymentStatus(payStatus)
	o.Status = Status(status)
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return Order{}, linesDecodeError{err: err}
	}
	return o, nil
}

func wrapScanErr(err error) error {
	var lde linesDecodeError
	if errors.As(err, &lde) {
		return fmt.Errorf("order row: %w", err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
}
