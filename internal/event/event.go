package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 1000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type subscription struct {
	handler Handler
	pool    chan struct{}
	timeout time.Duration
}

// Bus is an in-memory event bus. Each subscription owns its own worker pool,
// so a slow handler only throttles itself.
type Bus struct {
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]*subscription
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]*subscription),
	}
}

type SubscribeOption func(s *subscription)

// WithPoolSize limits the number of concurrent invocations of the handler.
func WithPoolSize(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.pool = make(chan struct{}, n)
		}
	}
}

// WithTimeout overrides the deadline given to each handler invocation.
func WithTimeout(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscribeOption) {
	s := &subscription{
		handler: h,
		pool:    make(chan struct{}, defaultPoolSize),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], s)
}

// Publish an event
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.handlers[e.Name()] {
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, s *subscription, e Event) {
	b.wg.Add(1)

	s.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-s.pool
			b.wg.Done()
		}()

		if err := s.handler(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
