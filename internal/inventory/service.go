package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const (
	RejectOutOfStock     = "OUT_OF_STOCK"
	RejectOrderCancelled = "ORDER_CANCELLED"
)

// Reservations is satisfied by *orders.ReservationRepo.
type Reservations interface {
	AlreadyReserved(ctx context.Context, orderID string, itemCount int) (bool, error)
	ReserveAll(ctx context.Context, orderID string, items []orders.ItemQty) (bool, []orders.StockRejectedDetail, error)
	ReleaseAll(ctx context.Context, orderID string) error
}

type Service struct {
	Repo        Reservations
	Redis       *redis.Client
	Producer    notify.Publisher
	ServiceName string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Handle dispatches on the event type carried by the envelope. It is
// installed as the consumer handler for order.created and order.cancelled.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.logger().Warn("drop undecodable message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	dkey := redisx.DedupKey(s.ServiceName, env.EventID)
	if seen, err := redisx.Exists(ctx, s.Redis, dkey); err == nil && seen {
		return nil
	}

	var err error
	switch env.EventType {
	case orders.EventOrderCreated:
		err = s.handleCreated(ctx, env)
	case orders.EventOrderCancelled:
		err = s.handleCancelled(ctx, env)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err(); err != nil {
		s.logger().Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	return nil
}

func (s *Service) handleCreated(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		s.logger().Warn("drop bad payload", zap.String("event", env.EventType), zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if len(p.Items) == 0 {
		return nil
	}

	if ok, err := s.Repo.AlreadyReserved(ctx, p.OrderID, len(p.Items)); err != nil {
		return err
	} else if ok {
		// publish reserved lagi (event ulang tidak masalah)
		return s.publishReserved(ctx, p.OrderID, p.Items, env.TraceID)
	}

	ok, details, err := s.Repo.ReserveAll(ctx, p.OrderID, p.Items)
	switch {
	case errors.Is(err, orders.ErrOrderCancelled):
		s.logger().Info("skip reservation of cancelled order", zap.String("order_id", p.OrderID))
		return s.publishRejected(ctx, p.OrderID, RejectOrderCancelled, nil, env.TraceID)
	case err != nil:
		return err
	case ok:
		return s.publishReserved(ctx, p.OrderID, p.Items, env.TraceID)
	default:
		return s.publishRejected(ctx, p.OrderID, RejectOutOfStock, details, env.TraceID)
	}
}

func (s *Service) handleCancelled(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		s.logger().Warn("drop bad payload", zap.String("event", env.EventType), zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if err := s.Repo.ReleaseAll(ctx, p.OrderID); err != nil {
		return fmt.Errorf("release order %s: %w", p.OrderID, err)
	}
	s.logger().Info("stock released", zap.String("order_id", p.OrderID))
	return nil
}

func (s *Service) publishReserved(ctx context.Context, orderID string, items []orders.ItemQty, trace string) error {
	return s.publish(ctx, orders.EventStockReserved, orderID, trace,
		orders.StockReservedPayload{OrderID: orderID, Items: items})
}

func (s *Service) publishRejected(ctx context.Context, orderID, reason string, details []orders.StockRejectedDetail, trace string) error {
	return s.publish(ctx, orders.EventStockRejected, orderID, trace,
		orders.StockRejectedPayload{OrderID: orderID, Reason: reason, Details: details})
}

func (s *Service) publish(ctx context.Context, eventType, orderID, trace string, payload any) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       json.RawMessage(kafkax.MustMarshal(payload)),
	}
	return s.Producer.Publish(ctx, orders.TopicFor(eventType), orders.PartitionKey(orderID),
		kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, 1)...)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
