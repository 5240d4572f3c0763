package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []string
	bus.Subscribe(TopicRatingRecorded, func(_ context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.MovieKey())
		return nil
	})
	var other atomic.Int32
	bus.Subscribe(TopicMovieCreated, func(context.Context, Event) error {
		other.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), RatingRecorded{MovieID: "m1", Rating: 5}))
	require.NoError(t, bus.Publish(context.Background(), RatingRecorded{MovieID: "m2", Rating: 4}))
	bus.Close()

	assert.ElementsMatch(t, []string{"m1", "m2"}, got)
	assert.Zero(t, other.Load())
}

func TestBusHandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	var delivered atomic.Int32
	bus.Subscribe(TopicMovieUpdated, func(context.Context, Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(TopicMovieUpdated, func(context.Context, Event) error {
		panic("handler bug")
	})
	bus.Subscribe(TopicMovieUpdated, func(context.Context, Event) error {
		delivered.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), MovieUpdated{MovieID: "42"}))
	bus.Close()

	assert.Equal(t, int32(1), delivered.Load())
}

func TestBusHandlersOutliveCallerContext(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	bus.Subscribe(TopicAggregateSynced, func(ctx context.Context, _ Event) error {
		errCh <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Publish(ctx, AggregateSynced{MovieID: "7"}))
	bus.Close()

	assert.NoError(t, <-errCh)
}

func TestBusRejectsPublishAfterClose(t *testing.T) {
	bus := NewBus(nil)
	bus.Close()

	err := bus.Publish(context.Background(), MovieCreated{MovieID: "1"})
	assert.ErrorIs(t, err, ErrBusClosed)

	var nilBus *Bus
	assert.NoError(t, nilBus.Publish(context.Background(), MovieCreated{MovieID: "1"}))
}
