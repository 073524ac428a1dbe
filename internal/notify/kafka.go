package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

const eventVersion = 1

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

// Kafka publishes lifecycle events as versioned envelopes, one topic per event
// type, keyed by order id.
type Kafka struct {
	Producer    Publisher
	ServiceName string
}

func (k *Kafka) Notify(ctx context.Context, ev orders.Event) error {
	topic := orders.TopicFor(ev.Type)
	if topic == "" {
		return fmt.Errorf("notify: no topic for event %q", ev.Type)
	}
	payload, err := payloadFor(ev)
	if err != nil {
		return err
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  eventVersion,
		OccurredAt:    ev.OccurredAt.UTC(),
		Producer:      k.ServiceName,
		CorrelationID: ev.Order.ID,
		Payload:       payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}
	return k.Producer.Publish(ctx, topic, orders.PartitionKey(ev.Order.ID), b, kafkax.EventHeaders(ev.Type, eventVersion)...)
}

func payloadFor(ev orders.Event) (json.RawMessage, error) {
	o := ev.Order
	var v any
	switch ev.Type {
	case orders.EventOrderCreated:
		v = orders.OrderCreatedPayload{
			OrderID:       o.ID,
			CustomerID:    o.CustomerID,
			Items:         orders.StockDemand(o.Lines),
			TotalCents:    o.Total,
			PaymentMethod: o.PaymentMethod,
			PaymentStatus: o.PaymentStatus,
		}
	case orders.EventOrderCompleted:
		v = orders.OrderCompletedPayload{
			OrderID:         o.ID,
			CustomerID:      o.CustomerID,
			TotalCents:      o.Total,
			PaymentMethod:   o.PaymentMethod,
			PaymentStatus:   o.PaymentStatus,
			AwaitingPayment: o.PaymentStatus != orders.PaymentPaid,
		}
	default:
		v = orders.OrderStatusChangedPayload{
			OrderID:        o.ID,
			CustomerID:     o.CustomerID,
			PreviousStatus: ev.PreviousStatus,
			Status:         o.Status,
			PaymentStatus:  o.PaymentStatus,
			Reason:         o.CancellationReason,
			Version:        o.Version,
			ActorID:        ev.ActorID,
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal %s payload: %w", ev.Type, err)
	}
	return b, nil
}
