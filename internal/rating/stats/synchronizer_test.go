package stats

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marquee/catalog/internal/cache/cachetest"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/events"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/internal/rating/ratingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type syncFixture struct {
	sync  *Synchronizer
	store *ratingtest.Store
	db    *gorm.DB
	redis *miniredis.Miniredis
	bus   *events.Bus
	clock *clock.FakeClock
}

func setupSync(t *testing.T) *syncFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	kv, srv, _ := cachetest.New(t)
	store, db := ratingtest.NewStore(t)
	bus := events.NewBus(log)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewSynchronizer(Params{Log: log, Cache: kv, Store: store, Publisher: bus, Clock: clk})
	return &syncFixture{sync: s, store: store, db: db, redis: srv, bus: bus, clock: clk}
}

func (f *syncFixture) seed(movieID string, buckets map[int]int) {
	var sum, count int
	for n, c := range buckets {
		f.redis.Set(domain.BucketKey(movieID, n), strconv.Itoa(c))
		sum += n * c
		count += c
	}
	f.redis.Set(domain.SumKey(movieID), strconv.Itoa(sum))
	f.redis.Set(domain.CountKey(movieID), strconv.Itoa(count))
}

func TestSyncMovieWritesSummaryAndStatistics(t *testing.T) {
	f := setupSync(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&moviedomain.Movie{ID: 42, Slug: "arrival", Title: "Arrival", Type: moviedomain.ContentTypeMovie}).Error)
	f.seed("42", map[int]int{5: 3, 4: 1})
	f.redis.Set(domain.RecentKey("42"), "2")

	synced, err := f.sync.SyncMovie(ctx, "42")
	require.NoError(t, err)
	assert.True(t, synced)

	var movie moviedomain.Movie
	require.NoError(t, f.db.First(&movie, 42).Error)
	assert.InDelta(t, 4.75, movie.AverageRating, 1e-9)
	assert.Equal(t, int64(4), movie.TotalRatings)

	row, err := f.store.GetStatistics(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(3), row.FiveStarCount)
	assert.Equal(t, int64(1), row.FourStarCount)
	assert.Zero(t, row.OneStarCount)
	assert.Equal(t, int64(2), row.RecentRatingsCount)
	assert.InDelta(t, TrendingScore(4.75, 4, 2), row.TrendingScore, 1e-9)
	assert.True(t, row.LastCalculatedAt.Equal(f.clock.Now()))

	// a later sync updates the same row
	f.seed("42", map[int]int{5: 3, 4: 1, 1: 1})
	_, err = f.sync.SyncMovie(ctx, "42")
	require.NoError(t, err)
	row, err = f.store.GetStatistics(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(5), row.TotalRatings)
	assert.Equal(t, int64(1), row.OneStarCount)
}

func TestSyncMovieSkipsEmptyCounters(t *testing.T) {
	f := setupSync(t)

	synced, err := f.sync.SyncMovie(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, synced)

	row, err := f.store.GetStatistics(context.Background(), "m1")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSyncMovieWithoutCatalogRecord(t *testing.T) {
	f := setupSync(t)
	f.seed("m1", map[int]int{3: 2})

	synced, err := f.sync.SyncMovie(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, synced)

	row, err := f.store.GetStatistics(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 3.0, row.AverageRating)
}

func TestSyncMovieStorageFailure(t *testing.T) {
	f := setupSync(t)
	f.seed("m1", map[int]int{3: 2})
	f.store.UpsertErr = errors.New("db down")

	_, err := f.sync.SyncMovie(context.Background(), "m1")
	assert.Error(t, err)

	f.store.UpsertErr = nil
	f.store.SummaryErr = errors.New("deadlock")
	_, err = f.sync.SyncMovie(context.Background(), "m1")
	assert.Error(t, err)
}

func TestSyncMoviePublishesAggregate(t *testing.T) {
	f := setupSync(t)
	f.seed("m1", map[int]int{4: 1})

	got := make(chan events.AggregateSynced, 1)
	f.bus.Subscribe(events.TopicAggregateSynced, func(_ context.Context, evt events.Event) error {
		got <- evt.(events.AggregateSynced)
		return nil
	})

	_, err := f.sync.SyncMovie(context.Background(), "m1")
	require.NoError(t, err)
	f.bus.Close()

	evt := <-got
	assert.Equal(t, "m1", evt.MovieID)
	assert.Equal(t, 4.0, evt.AverageRating)
	assert.Equal(t, int64(1), evt.TotalRatings)
}

func TestSyncMoviesContinuesPastFailures(t *testing.T) {
	f := setupSync(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		f.seed(id, map[int]int{2: 1})
	}

	err := f.sync.SyncMovies(context.Background(), []string{"m1", "", "m2", "m3"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMovie)

	for _, id := range []string{"m1", "m2", "m3"} {
		row, err := f.store.GetStatistics(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, row, id)
	}
}
