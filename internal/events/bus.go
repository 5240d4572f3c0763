package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marquee/catalog/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("event_bus_closed")

// Handler consumes one event. A returned error is logged; delivery is not
// retried by the bus.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus delivers every published event to each handler subscribed to its
// topic. Each delivery runs on its own goroutine, so there is no ordering
// between handlers or between topics.
type Bus struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[Topic][]Handler
	closed   bool

	inflight sync.WaitGroup
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:      log.Named("events"),
		handlers: make(map[Topic][]Handler),
	}
}

func (b *Bus) Subscribe(topic Topic, h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish schedules delivery and returns without waiting for handlers.
// Handlers receive a context detached from the caller's cancellation.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if b == nil || evt == nil {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := append([]Handler(nil), b.handlers[evt.Topic()]...)
	b.inflight.Add(len(handlers))
	b.mu.RUnlock()

	detached := correlation.Detach(ctx)
	for _, h := range handlers {
		go b.deliver(detached, h, evt)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, h Handler, evt Event) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("topic", string(evt.Topic())),
				zap.String("movie_id", evt.MovieKey()),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := h(ctx, evt); err != nil {
		b.log.Warn("event handler failed",
			zap.String("topic", string(evt.Topic())),
			zap.String("movie_id", evt.MovieKey()),
			zap.Error(err),
		)
	}
}

// Close rejects further publishes and waits for in-flight deliveries.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}
