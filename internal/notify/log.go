package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Log writes every event to a zap logger. Useful in development and as a
// second sink next to Kafka.
type Log struct{ Logger *zap.Logger }

func (l Log) Notify(_ context.Context, ev orders.Event) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("order event",
		zap.String("event", ev.Type),
		zap.String("order_id", ev.Order.ID),
		zap.String("customer_id", ev.Order.CustomerID),
		zap.String("from", string(ev.PreviousStatus)),
		zap.String("to", string(ev.Order.Status)),
		zap.String("actor_id", ev.ActorID),
		zap.Time("occurred_at", ev.OccurredAt))
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []orders.Notifier

func (m Multi) Notify(ctx context.Context, ev orders.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
