package search

import (
	"context"
	"testing"
	"time"

	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type propFixture struct {
	prop   *Propagator
	index  *fakeIndex
	movies *fakeMovies
	clock  *clock.FakeClock
}

func setupPropagator(t *testing.T) *propFixture {
	t.Helper()
	index := newFakeIndex()
	movies := newFakeMovies(movie(42, "arrival"), movie(43, "dune"))
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	p := NewPropagator(PropagatorParams{
		Log:    zaptest.NewLogger(t),
		Index:  index,
		Movies: movies,
		Config: config.NewStaticPipelineConfig(config.DefaultPipelineConfig()),
		Clock:  clk,
	})
	t.Cleanup(p.Stop)
	return &propFixture{prop: p, index: index, movies: movies, clock: clk}
}

func TestRatingUpdatesAreCoalesced(t *testing.T) {
	f := setupPropagator(t)

	for i := 0; i < 5; i++ {
		f.prop.ScheduleRatingUpdate("42")
		f.clock.Advance(20 * time.Millisecond)
	}
	assert.Equal(t, 1, f.prop.Pending())

	f.clock.Advance(4900 * time.Millisecond)
	assert.Zero(t, f.index.ratingCallCount())

	f.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, f.index.ratingCallCount())
	assert.Zero(t, f.prop.Pending())

	fields := f.index.ratingFields["42"]
	assert.Equal(t, 4.0, fields.AverageRating)
	assert.Equal(t, int64(2), fields.Distribution.Four)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.index.ratingCallCount())
}

func TestRatingUpdatesAreIndependentPerMovie(t *testing.T) {
	f := setupPropagator(t)

	f.prop.ScheduleRatingUpdate("42")
	f.prop.ScheduleRatingUpdate("43")
	f.prop.ScheduleRatingUpdate("42")
	assert.Equal(t, 2, f.prop.Pending())

	f.clock.Advance(5 * time.Second)
	assert.ElementsMatch(t, []string{"42", "43"}, f.index.ratingCalls)
}

func TestFailedRatingUpdateIsRescheduled(t *testing.T) {
	f := setupPropagator(t)
	f.index.failNext(1)

	f.prop.ScheduleRatingUpdate("42")
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, f.index.ratingCallCount())
	assert.Equal(t, 1, f.prop.Pending())

	f.clock.Advance(9 * time.Second)
	assert.Equal(t, 1, f.index.ratingCallCount())

	f.clock.Advance(time.Second)
	assert.Equal(t, 2, f.index.ratingCallCount())
	assert.Zero(t, f.prop.Pending())
	assert.Contains(t, f.index.ratingFields, "42")
}

func TestRatingRetriesAreBounded(t *testing.T) {
	f := setupPropagator(t)
	f.index.failNext(-1)

	f.prop.ScheduleRatingUpdate("42")
	f.clock.Advance(5 * time.Minute)

	// first attempt plus five retries
	assert.Equal(t, 6, f.index.ratingCallCount())
	assert.Zero(t, f.prop.Pending())
}

func TestNewEventRestartsPendingRetry(t *testing.T) {
	f := setupPropagator(t)
	f.index.failNext(1)

	f.prop.ScheduleRatingUpdate("42")
	f.clock.Advance(5 * time.Second)
	require.Equal(t, 1, f.prop.Pending())

	f.clock.Advance(8 * time.Second)
	f.prop.ScheduleRatingUpdate("42")
	f.clock.Advance(4 * time.Second)
	assert.Equal(t, 1, f.index.ratingCallCount())

	f.clock.Advance(time.Second)
	assert.Equal(t, 2, f.index.ratingCallCount())
}

func TestUnknownMovieIsNotRetried(t *testing.T) {
	f := setupPropagator(t)

	f.prop.ScheduleRatingUpdate("m1")
	f.clock.Advance(time.Minute)
	assert.Zero(t, f.index.ratingCallCount())
	assert.Zero(t, f.prop.Pending())
}

func TestStopCancelsTimers(t *testing.T) {
	f := setupPropagator(t)

	f.prop.ScheduleRatingUpdate("42")
	f.prop.ScheduleRatingUpdate("43")
	f.prop.Stop()
	assert.Zero(t, f.prop.Pending())
	assert.Zero(t, f.clock.Pending())

	f.prop.ScheduleRatingUpdate("42")
	f.clock.Advance(time.Minute)
	assert.Zero(t, f.index.ratingCallCount())
}

func TestMovieCreatedIndexesDocument(t *testing.T) {
	f := setupPropagator(t)

	f.prop.HandleMovieUpsert(events.MovieCreated{MovieID: "42"})
	require.Len(t, f.index.indexed, 1)
	doc := f.index.indexed[0]
	assert.Equal(t, "42", doc.ID)
	assert.Equal(t, "arrival", doc.Title)
	assert.Equal(t, []string{"sci-fi"}, doc.Genres)
	assert.Equal(t, []string{"Amy Adams"}, doc.Cast)

	f.prop.HandleMovieUpsert(events.MovieUpdated{MovieID: "42"})
	assert.Len(t, f.index.updated, 1)
}

func TestDocumentFailureRetriesOnce(t *testing.T) {
	f := setupPropagator(t)
	f.index.failNext(-1)

	f.prop.HandleMovieUpsert(events.MovieUpdated{MovieID: "42"})
	assert.Equal(t, 1, f.prop.Pending())

	f.clock.Advance(29 * time.Second)
	assert.Equal(t, 1, f.prop.Pending())
	f.clock.Advance(time.Second)
	assert.Zero(t, f.prop.Pending())

	f.clock.Advance(5 * time.Minute)
	assert.Zero(t, f.clock.Pending())
	assert.Empty(t, f.index.updated)
}

func TestDocumentRetrySucceeds(t *testing.T) {
	f := setupPropagator(t)
	f.index.failNext(1)

	f.prop.HandleMovieUpsert(events.MovieCreated{MovieID: "43"})
	assert.Empty(t, f.index.indexed)

	f.clock.Advance(30 * time.Second)
	require.Len(t, f.index.indexed, 1)
	assert.Equal(t, "43", f.index.indexed[0].ID)
}

func TestPropagatorConsumesBusEvents(t *testing.T) {
	f := setupPropagator(t)
	bus := events.NewBus(zaptest.NewLogger(t))
	f.prop.Subscribe(bus)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.RatingRecorded{RatingID: "r1", MovieID: "42", Rating: 5}))
	require.NoError(t, bus.Publish(ctx, events.AggregateSynced{MovieID: "42"}))
	require.NoError(t, bus.Publish(ctx, events.MovieCreated{MovieID: "43"}))
	bus.Close()

	assert.Equal(t, 1, f.prop.Pending())
	assert.Len(t, f.index.indexed, 1)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"42"}, f.index.ratingCalls)
}
