package queue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iago/fleet-reports/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

func (c BatchingConfig) withDefaults() BatchingConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 32
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 25 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 3 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.MaxInFlightBatches <= 0 {
		c.MaxInFlightBatches = 4
	}
	return c
}

type batchWriter interface {
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

type pendingEnqueue struct {
	ctx     context.Context
	message domain.QueueMessage
	result  chan error
}

// BatchingProducer groups submissions that arrive close together into one
// backend write. The buffer is bounded; a full buffer fails fast with
// ErrQueueBackpressure instead of blocking the HTTP handler.
type BatchingProducer struct {
	base   Producer
	writer batchWriter
	config BatchingConfig

	in        chan pendingEnqueue
	slots     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	parent    <-chan struct{}
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	cfg = cfg.withDefaults()
	producer := &BatchingProducer{
		base:   base,
		config: cfg,
		in:     make(chan pendingEnqueue, cfg.QueueCapacity),
		slots:  make(chan struct{}, cfg.MaxInFlightBatches),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		parent: parent.Done(),
	}
	if writer, ok := base.(batchWriter); ok {
		producer.writer = writer
	}

	go producer.loop()
	return producer
}

func (b *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	request := pendingEnqueue{ctx: ctx, message: message, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
	}

	select {
	case b.in <- request:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-request.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes whatever is buffered and stops the loop.
func (b *BatchingProducer) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingProducer) loop() {
	defer close(b.done)

	pending := make([]pendingEnqueue, 0, b.config.MaxBatchSize)
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timerCh = nil
	}
	flush := func(final bool) {
		disarm()
		if len(pending) == 0 {
			return
		}
		batch := append([]pendingEnqueue(nil), pending...)
		pending = pending[:0]
		b.write(batch, final)
	}

	for {
		select {
		case <-b.parent:
			flush(true)
			return
		case <-b.stop:
			flush(true)
			return
		case <-timerCh:
			flush(false)
		case request := <-b.in:
			if err := request.ctx.Err(); err != nil {
				request.result <- err
				continue
			}
			pending = append(pending, request)
			if len(pending) >= b.config.MaxBatchSize {
				flush(false)
				continue
			}
			if timerCh == nil {
				timer = time.NewTimer(b.config.FlushInterval)
				timerCh = timer.C
			}
		}
	}
}

func (b *BatchingProducer) write(batch []pendingEnqueue, final bool) {
	active := batch[:0]
	for _, request := range batch {
		if err := request.ctx.Err(); err != nil {
			request.result <- err
			continue
		}
		active = append(active, request)
	}
	if len(active) == 0 {
		return
	}

	messages := make([]domain.QueueMessage, 0, len(active))
	for _, request := range active {
		messages = append(messages, request.message)
	}
	orderBatch(messages)

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.FlushTimeout)
		defer cancel()
	}

	err := b.acquire(ctx)
	if err == nil {
		err = b.send(ctx, messages)
		<-b.slots
	}

	for _, request := range active {
		request.result <- err
	}
}

func (b *BatchingProducer) acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BatchingProducer) send(ctx context.Context, messages []domain.QueueMessage) error {
	if b.writer != nil {
		return b.writer.EnqueueBatch(ctx, messages)
	}
	for _, message := range messages {
		if err := b.base.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// orderBatch places jobs for the same kind and vehicle next to each other;
// ties keep request order.
func orderBatch(messages []domain.QueueMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		left, right := coalesceKey(messages[i]), coalesceKey(messages[j])
		if left == right {
			return messages[i].RequestedAt.Before(messages[j].RequestedAt)
		}
		return left < right
	})
}

func coalesceKey(message domain.QueueMessage) string {
	return strings.Join([]string{message.ReportKind, message.Scope["vehicleId"]}, "|")
}
