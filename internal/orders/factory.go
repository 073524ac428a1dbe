package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/pricing"
)

type CreateOrderCommand struct {
	CustomerID      string
	Snapshot        cart.Snapshot
	Priced          pricing.PricedCart
	Recipient       Recipient
	ShippingAddress Address
	PaymentMethod   PaymentMethod
}

// PaymentSignal tells the factory whether a payment method settled while the
// customer was still checking out.
type PaymentSignal interface {
	ConfirmedAtCheckout(ctx context.Context, method PaymentMethod, amount int64) bool
}

type PaymentSignalFunc func(ctx context.Context, method PaymentMethod, amount int64) bool

func (f PaymentSignalFunc) ConfirmedAtCheckout(ctx context.Context, method PaymentMethod, amount int64) bool {
	return f(ctx, method, amount)
}

// Committed is emitted once an order has been stored. Snapshot holds the cart
// lines the order consumed.
type Committed struct {
	OrderID    string
	CustomerID string
	Snapshot   cart.Snapshot
}

type CommitListener interface {
	OrderCommitted(ctx context.Context, c Committed) error
}

type CommitListenerFunc func(ctx context.Context, c Committed) error

func (f CommitListenerFunc) OrderCommitted(ctx context.Context, c Committed) error { return f(ctx, c) }

type FactoryDeps struct {
	Repo      Repository
	Notifier  Notifier
	Payments  PaymentSignal
	Listeners []CommitListener
	Now       func() time.Time
	NewID     func() string
	Logger    *zap.Logger
}

type Factory struct {
	repo      Repository
	notifier  Notifier
	payments  PaymentSignal
	listeners []CommitListener
	now       func() time.Time
	newID     func() string
	log       *zap.Logger
}

func NewFactory(d FactoryDeps) (*Factory, error) {
	if d.Repo == nil {
		return nil, errors.New("orders: factory requires a repository")
	}
	f := &Factory{
		repo:      d.Repo,
		notifier:  d.Notifier,
		payments:  d.Payments,
		listeners: d.Listeners,
		now:       d.Now,
		newID:     d.NewID,
		log:       d.Logger,
	}
	if f.notifier == nil {
		f.notifier = NopNotifier{}
	}
	if f.now == nil {
		f.now = func() time.Time { return time.Now().UTC() }
	}
	if f.newID == nil {
		f.newID = uuid.NewString
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	return f, nil
}

// Subscribe registers a listener for committed orders. Call it during wiring,
// before the factory serves requests.
func (f *Factory) Subscribe(l CommitListener) { f.listeners = append(f.listeners, l) }

// CreateOrder freezes the snapshot into a new UNCONFIRMED order. The cart
// itself is never touched here; listeners receive a Committed signal instead.
func (f *Factory) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		customerID = cmd.Snapshot.CustomerID
	}
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id required", apperr.ErrInvalidInput)
	}
	if cmd.Snapshot.Empty() {
		return Order{}, fmt.Errorf("%w: customer %s", apperr.ErrEmptyCart, customerID)
	}
	recipient, addr, err := normalizeRecipient(cmd.Recipient, cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	method, err := ParsePaymentMethod(string(cmd.PaymentMethod))
	if err != nil {
		return Order{}, err
	}

	lines := cmd.Snapshot.Lines()
	if sub := lines.Total(); cmd.Priced.Subtotal != sub {
		return Order{}, fmt.Errorf("%w: priced subtotal %d does not match cart subtotal %d",
			apperr.ErrInvalidInput, cmd.Priced.Subtotal, sub)
	}
	if cmd.Priced.Discount < 0 || cmd.Priced.Total != max(cmd.Priced.Subtotal-cmd.Priced.Discount, 0) {
		return Order{}, fmt.Errorf("%w: inconsistent priced cart", apperr.ErrInvalidInput)
	}

	now := f.now()
	o := Order{
		ID:              f.newID(),
		CustomerID:      customerID,
		Recipient:       recipient,
		ShippingAddress: addr,
		Lines:           lines.Clone(),
		Subtotal:        cmd.Priced.Subtotal,
		PromoCode:       cmd.Priced.PromoCode,
		Discount:        cmd.Priced.Discount,
		Total:           cmd.Priced.Total,
		PaymentMethod:   method,
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusUnconfirmed,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if f.payments != nil && f.payments.ConfirmedAtCheckout(ctx, method, o.Total) {
		o.PaymentStatus = PaymentPaid
	}

	if err := f.repo.Insert(ctx, o); err != nil {
		return Order{}, err
	}
	f.log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Int64("total", o.Total),
		zap.String("payment_status", string(o.PaymentStatus)))

	committed := Committed{OrderID: o.ID, CustomerID: customerID, Snapshot: cmd.Snapshot}
	for _, l := range f.listeners {
		if err := l.OrderCommitted(ctx, committed); err != nil {
			f.log.Warn("commit listener failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	ev := Event{Type: EventOrderCreated, Order: o.Clone(), ActorID: customerID, OccurredAt: now}
	if err := f.notifier.Notify(ctx, ev); err != nil {
		f.log.Warn("notify failed", zap.String("event", ev.Type), zap.String("order_id", o.ID), zap.Error(err))
	}
	return o.Clone(), nil
}

func normalizeRecipient(r Recipient, a Address) (Recipient, Address, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Ward = strings.TrimSpace(a.Ward)
	a.District = strings.TrimSpace(a.District)
	a.City = strings.TrimSpace(a.City)

	var missing []string
	if r.Name == "" {
		missing = append(missing, "recipient.name")
	}
	if r.Phone == "" {
		missing = append(missing, "recipient.phone")
	}
	if a.Line1 == "" {
		missing = append(missing, "shipping_address.line1")
	}
	if a.City == "" {
		missing = append(missing, "shipping_address.city")
	}
	if len(missing) > 0 {
		return r, a, fmt.Errorf("%w: missing %s", apperr.ErrIncompleteRecipient, strings.Join(missing, ", "))
	}
	return r, a, nil
}
