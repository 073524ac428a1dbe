package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 16, nil)
	ctx := context.Background()

	for _, topic := range []string{"order.created", "order.cancelled"} {
		require.NoError(t, p.Publish(ctx, topic, []byte("o1"), []byte("{}"), EventHeaders("OrderCreated", 1)...))
	}
	p.Start(ctx)
	p.Close()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "order.created", w.msgs[0].Topic)
	assert.Equal(t, "order.cancelled", w.msgs[1].Topic)
	assert.Equal(t, "1", Header(w.msgs[0], HeaderEventVersion))
	assert.True(t, w.closed)

	assert.ErrorIs(t, p.Publish(ctx, "order.created", nil, nil), ErrProducerClosed)
	p.Close()
}

func TestProducer_PublishHonoursContext(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	require.NoError(t, p.Publish(context.Background(), "t", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(ctx, "t", nil, nil), context.DeadlineExceeded)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type keyCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (k *keyCounter) handler(failKey string) Handler {
	return func(_ context.Context, m kafka.Message) error {
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.calls == nil {
			k.calls = map[string]int{}
		}
		k.calls[string(m.Key)]++
		if string(m.Key) == failKey {
			return errors.New("boom")
		}
		return nil
	}
}

func (k *keyCounter) count(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[key]
}

func threeMessages() []kafka.Message {
	return []kafka.Message{
		{Topic: "order.created", Key: []byte("o1"), Offset: 1},
		{Topic: "order.created", Key: []byte("poison"), Offset: 2},
		{Topic: "order.created", Key: []byte("o2"), Offset: 3},
	}
}

func TestConsumer_StopsBeforeCommittingPastAStuckMessage(t *testing.T) {
	r := &fakeReader{queue: threeMessages()}
	c := newConsumer(r, ConsumerConfig{Workers: 2, Attempts: 2, Backoff: time.Millisecond}, nil)
	k := &keyCounter{}

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background(), k.handler("poison")) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorContains(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, 2, k.count("poison"))
	for _, off := range r.commits() {
		assert.Less(t, off, int64(2))
	}
}

func TestConsumer_DeadLetterUnblocksPartition(t *testing.T) {
	r := &fakeReader{queue: threeMessages()}
	w := &fakeWriter{}
	dlq := &DeadLetter{w: w, topic: "inventory.dlq"}
	c := newConsumer(r, ConsumerConfig{Workers: 2, Attempts: 2, Backoff: time.Millisecond, DeadLetter: dlq.Park}, nil)
	k := &keyCounter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, k.handler("poison")) }()

	require.Eventually(t, func() bool {
		cs := r.commits()
		return len(cs) > 0 && cs[len(cs)-1] == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	cs := r.commits()
	for i := 1; i < len(cs); i++ {
		assert.Greater(t, cs[i], cs[i-1])
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 1)
	parked := w.msgs[0]
	assert.Equal(t, "inventory.dlq", parked.Topic)
	assert.Equal(t, "poison", string(parked.Key))
	assert.Equal(t, "order.created", Header(parked, HeaderOriginalTopic))
	assert.Equal(t, "2", Header(parked, HeaderOriginalOffset))
	assert.Equal(t, "boom", Header(parked, HeaderError))
}

func TestOffsetTracker_CommitsContiguousPrefixOnly(t *testing.T) {
	tr := newOffsetTracker()
	msgs := threeMessages()
	for _, m := range msgs {
		tr.fetched(m)
	}

	_, ok := tr.finishLocked(msgs[2])
	assert.False(t, ok)
	upTo, ok := tr.finishLocked(msgs[0])
	require.True(t, ok)
	assert.Equal(t, int64(1), upTo.Offset)
	upTo, ok = tr.finishLocked(msgs[1])
	require.True(t, ok)
	assert.Equal(t, int64(3), upTo.Offset)

	other := kafka.Message{Topic: "order.created", Partition: 1, Offset: 9}
	tr.fetched(other)
	upTo, ok = tr.finishLocked(other)
	require.True(t, ok)
	assert.Equal(t, int64(9), upTo.Offset)
}

func TestConsumer_SameKeySameWorker(t *testing.T) {
	c := newConsumer(&fakeReader{}, ConsumerConfig{Workers: 8}, nil)
	assert.Equal(t, c.slot([]byte("order-42")), c.slot([]byte("order-42")))
	assert.Equal(t, 0, c.slot(nil))
}
