package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

// DeadLetterFunc takes over a message the handler kept failing on. Returning
// nil lets the consumer commit past it.
type DeadLetterFunc func(ctx context.Context, m kafka.Message, cause error) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Group   string
	Topics  []string
	Workers int
	// Attempts is how often a failing message is handled before it goes to
	// DeadLetter. Without DeadLetter the consumer stops instead.
	Attempts   int
	Backoff    time.Duration
	DeadLetter DeadLetterFunc
}

// Consumer fans messages out to a worker pool. Messages with the same key go
// to the same worker, so events of one order are handled in order. Offsets are
// committed per partition only up to the last message that is finished along
// with everything fetched before it.
type Consumer struct {
	r          messageReader
	workers    int
	attempts   int
	backoff    time.Duration
	deadLetter DeadLetterFunc
	offsets    *offsetTracker
	log        *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, cfg, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	c := &Consumer{
		r:          r,
		workers:    cfg.Workers,
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		deadLetter: cfg.DeadLetter,
		offsets:    newOffsetTracker(),
		log:        logger,
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.backoff <= 0 {
		c.backoff = 200 * time.Millisecond
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Start blocks until ctx ends, fetching fails, or a message can neither be
// handled nor dead-lettered. A shutdown through ctx returns nil.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fatal := make(chan error, 1)

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := c.handle(ctx, h, m); err != nil {
					select {
					case fatal <- err:
					default:
					}
					cancel()
				}
			}
		}(jobs[i])
	}
	stop := func() error {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
		select {
		case err := <-fatal:
			return err
		default:
			return nil
		}
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ferr := stop(); ferr != nil {
				return ferr
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.offsets.fetched(m)
		select {
		case jobs[c.slot(m.Key)] <- m:
		case <-ctx.Done():
			return stop()
		}
	}
}

func (c *Consumer) slot(key []byte) int {
	if c.workers == 1 || len(key) == 0 {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(c.workers))
}

// handle returns an error only when the message is stuck: it kept failing and
// could not be dead-lettered, so nothing at or after it may be committed.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		c.log.Warn("handler failed",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if c.deadLetter == nil {
			return fmt.Errorf("kafka: %s/%d offset %d failed %d times: %w", m.Topic, m.Partition, m.Offset, c.attempts, err)
		}
		if dlErr := c.deadLetter(ctx, m, err); dlErr != nil {
			return fmt.Errorf("kafka: dead-letter %s/%d offset %d: %w", m.Topic, m.Partition, m.Offset, dlErr)
		}
		c.log.Error("message dead-lettered",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
	c.commit(ctx, m)
	return nil
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	c.offsets.mu.Lock()
	defer c.offsets.mu.Unlock()
	upTo, ok := c.offsets.finishLocked(m)
	if !ok {
		return
	}
	if err := c.r.CommitMessages(ctx, upTo); err != nil && ctx.Err() == nil {
		c.log.Error("commit failed", zap.String("topic", upTo.Topic), zap.Int64("offset", upTo.Offset), zap.Error(err))
	}
}

type partition struct {
	topic string
	id    int
}

type partitionOffsets struct {
	pending []int64 // fetched, not yet committed, ascending
	done    map[int64]kafka.Message
}

// offsetTracker remembers fetched offsets per partition so a commit never
// covers a message that is still being handled. Its mutex also serializes
// commits, keeping them monotonic per partition.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partition]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: map[partition]*partitionOffsets{}}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := partition{m.Topic, m.Partition}
	p, ok := t.parts[key]
	if !ok {
		p = &partitionOffsets{done: map[int64]kafka.Message{}}
		t.parts[key] = p
	}
	p.pending = append(p.pending, m.Offset)
}

// finishLocked marks m finished and returns the highest message whose
// predecessors are all finished too.
func (t *offsetTracker) finishLocked(m kafka.Message) (kafka.Message, bool) {
	p, ok := t.parts[partition{m.Topic, m.Partition}]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = m
	var upTo kafka.Message
	advanced := false
	for len(p.pending) > 0 {
		head, finished := p.done[p.pending[0]]
		if !finished {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		upTo, advanced = head, true
	}
	return upTo, advanced
}
