package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderError             = "x-error"
)

// DeadLetter copies messages that could not be handled to one topic. Writes
// wait for the broker ack, so the source offset is committed only after the
// copy is stored.
type DeadLetter struct {
	w     messageWriter
	topic string
}

func NewDeadLetter(brokers []string, topic string) *DeadLetter {
	return &DeadLetter{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Park is a DeadLetterFunc.
func (d *DeadLetter) Park(ctx context.Context, m kafka.Message, cause error) error {
	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
	)
	return d.w.WriteMessages(ctx, kafka.Message{
		Topic:   d.topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	})
}

func (d *DeadLetter) Close() error { return d.w.Close() }
