// Package bus is an in-process topic bus connecting pipeline stages.
//
// Each topic carries one payload type, fixed by its Topic[T] value, so
// handlers receive typed messages. Publishing appends to the topic's
// unbounded queue. The first Subscribe on a topic starts its single
// dispatcher, which takes messages in FIFO order and hands each one to
// every handler subscribed at that moment, each in its own goroutine.
// Handler errors and panics are logged and counted; they never stop the
// dispatcher or other handlers. Delivery is at-least-once.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-search-crawler/internal/queue"
	"github.com/JakeFAU/realtime-search-crawler/internal/queue/memory"
)

// ErrClosed is returned by Publish, Subscribe and WaitIdle after Close.
var ErrClosed = errors.New("bus closed")

// Topic names a channel whose messages are of type T.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic. Two Topic values with the same name must use the
// same T.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string { return t.name }

// Handler consumes one message. A returned error is logged, not retried.
type Handler[T any] func(ctx context.Context, msg T) error

type handlerFunc func(ctx context.Context, msg any) error

type topicState struct {
	name     string
	queue    queue.Queue[any]
	handlers []handlerFunc
	started  bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMirror forwards every published message to an external publisher.
// Mirror failures are logged and do not fail Publish.
func WithMirror(p crawler.Publisher) Option {
	return func(b *Bus) { b.mirror = p }
}

// Bus routes messages between stages. The zero value is not usable; call New.
type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	mirror crawler.Publisher

	mu      sync.Mutex
	topics  map[string]*topicState
	pending int
	idle    chan struct{}
	closed  bool

	wg sync.WaitGroup
}

// New creates a Bus. Handler contexts derive from a bus-owned context that is
// canceled by Close.
func New(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		ctx:    ctx,
		cancel: cancel,
		logger: zap.NewNop(),
		topics: make(map[string]*topicState),
		idle:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends msg to topic's queue. It never waits on handlers.
func Publish[T any](ctx context.Context, b *Bus, topic Topic[T], msg T) error {
	if err := b.enqueue(topic.name, msg); err != nil {
		return err
	}
	if b.mirror != nil {
		if _, err := b.mirror.Publish(ctx, topic.name, msg); err != nil {
			b.logger.Warn("mirror publish failed", zap.String("topic", topic.name), zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers h on topic and starts the topic's dispatcher if it is
// not running yet.
func Subscribe[T any](b *Bus, topic Topic[T], h Handler[T]) error {
	wrapped := func(ctx context.Context, msg any) error {
		typed, ok := msg.(T)
		if !ok {
			return fmt.Errorf("topic %s: unexpected payload %T", topic.name, msg)
		}
		return h(ctx, typed)
	}
	return b.subscribe(topic.name, wrapped)
}

func (b *Bus) enqueue(topic string, msg any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	ts := b.topicLocked(topic)
	if err := ts.queue.Enqueue(msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", topic, err)
	}
	b.pending++
	metrics.ObservePublish(topic)
	return nil
}

func (b *Bus) subscribe(topic string, h handlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	ts := b.topicLocked(topic)
	ts.handlers = append(ts.handlers, h)
	if !ts.started {
		ts.started = true
		b.wg.Add(1)
		go b.dispatch(ts)
		b.logger.Debug("dispatcher started", zap.String("topic", topic))
	}
	return nil
}

func (b *Bus) topicLocked(name string) *topicState {
	ts, ok := b.topics[name]
	if !ok {
		ts = &topicState{name: name, queue: memory.NewQueue[any]()}
		b.topics[name] = ts
	}
	return ts
}

func (b *Bus) dispatch(ts *topicState) {
	defer b.wg.Done()
	for {
		msg, err := ts.queue.Dequeue(b.ctx)
		if err != nil {
			return
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		handlers := make([]handlerFunc, len(ts.handlers))
		copy(handlers, ts.handlers)
		// The message stops counting as pending only once its handlers count.
		b.pending += len(handlers) - 1
		b.wg.Add(len(handlers))
		b.wakeIfIdleLocked()
		b.mu.Unlock()

		for _, h := range handlers {
			go b.run(ts.name, h, msg)
		}
	}
}

func (b *Bus) run(topic string, h handlerFunc, msg any) {
	start := time.Now()
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			b.logger.Error("bus handler panic", zap.String("topic", topic), zap.Any("panic", r))
		}
		metrics.ObserveHandler(topic, time.Since(start), failed)
		b.done()
	}()

	if err := h(b.ctx, msg); err != nil {
		failed = true
		b.logger.Error("bus handler failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (b *Bus) done() {
	b.mu.Lock()
	b.pending--
	b.wakeIfIdleLocked()
	b.mu.Unlock()
	b.wg.Done()
}

func (b *Bus) wakeIfIdleLocked() {
	if b.pending == 0 {
		close(b.idle)
		b.idle = make(chan struct{})
	}
}

// Pending reports messages queued or being handled, counting one per
// handler invocation in flight.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// WaitIdle blocks until no message is queued and no handler is running. A
// message published to a topic nobody subscribes to keeps the bus busy.
func (b *Bus) WaitIdle(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.pending == 0 {
			b.mu.Unlock()
			return nil
		}
		wait := b.idle
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Close stops every dispatcher, cancels running handlers' context and waits
// for them to return. Queued messages are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ts := range b.topics {
		ts.queue.Close()
	}
	close(b.idle)
	b.idle = make(chan struct{})
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
