package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marquee/catalog/internal/cache/cachetest"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/jobs/jobstest"
	obscontext "github.com/marquee/catalog/internal/observability/context"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/marquee/catalog/internal/rating/dedup"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/internal/rating/ratingtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	svc   *Service
	store *ratingtest.Store
	redis *miniredis.Miniredis
	queue *jobstest.Recorder
	bus   *events.Bus
	clock *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store, _ := ratingtest.NewStore(t)
	kv, srv, _ := cachetest.New(t)
	cfg := config.NewStaticPipelineConfig(config.DefaultPipelineConfig())
	queue := &jobstest.Recorder{}
	bus := events.NewBus(log)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	guard := dedup.NewGuard(dedup.Params{Cache: kv, Store: store, Log: log, Config: cfg})
	svc := NewService(ServiceParam{
		Log:       log,
		Cache:     kv,
		Store:     store,
		Guard:     guard,
		Queue:     queue,
		Publisher: bus,
		Config:    cfg,
		Clock:     clk,
		Metrics:   metrics.NewPipelineMetricsForTest(prometheus.NewRegistry()),
	})
	svc.jitter = func(max time.Duration) time.Duration { return max / 2 }

	return &fixture{svc: svc, store: store, redis: srv, queue: queue, bus: bus, clock: clk}
}

func TestSubmitThenDuplicate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	resp, err := f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 5, UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "m1", resp.MovieID)
	assert.Equal(t, 5, resp.Rating)
	assert.Equal(t, 5.0, resp.AverageRating)
	assert.Equal(t, int64(1), resp.TotalRatings)
	assert.Equal(t, f.clock.Now(), resp.CreatedAt)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 3, UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRating)

	n, err := f.redis.List(domain.PendingQueueKey)
	require.NoError(t, err)
	assert.Len(t, n, 1)
}

func TestSubmitWritesCacheRecord(t *testing.T) {
	f := setup(t)

	resp, err := f.svc.Submit(context.Background(), domain.SubmitRequest{
		MovieID:   "m1",
		Rating:    "4",
		SessionID: "s1",
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8",
	})
	require.NoError(t, err)

	key := domain.RatingKey(resp.ID)
	assert.Equal(t, "m1", f.redis.HGet(key, domain.FieldMovieID))
	assert.Equal(t, "4", f.redis.HGet(key, domain.FieldRating))
	assert.Equal(t, "s1", f.redis.HGet(key, domain.FieldSessionID))
	assert.Equal(t, "curl/8", f.redis.HGet(key, domain.FieldUserAgent))
	assert.Equal(t, fmt.Sprint(f.clock.Now().UnixMilli()), f.redis.HGet(key, domain.FieldTimestamp))
	assert.Empty(t, f.redis.HGet(key, domain.FieldPersisted))

	assert.Equal(t, time.Hour, f.redis.TTL("dup:m1:s1"))

	pending, err := f.redis.List(domain.PendingQueueKey)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	var entry domain.PendingEntry
	require.NoError(t, json.Unmarshal([]byte(pending[0]), &entry))
	assert.Equal(t, resp.ID, entry.ID)
	assert.Equal(t, 4, entry.Rating)

	sum, _ := f.redis.Get(domain.SumKey("m1"))
	assert.Equal(t, "4", sum)
	count, _ := f.redis.Get(domain.CountKey("m1"))
	assert.Equal(t, "1", count)
	bucket, _ := f.redis.Get(domain.BucketKey("m1", 4))
	assert.Equal(t, "1", bucket)
	recent, _ := f.redis.Get(domain.RecentKey("m1"))
	assert.Equal(t, "1", recent)
	assert.Equal(t, 24*time.Hour, f.redis.TTL(domain.RecentKey("m1")))
}

func TestSubmitEnqueuesBackgroundJobs(t *testing.T) {
	f := setup(t)

	resp, err := f.svc.Submit(context.Background(), domain.SubmitRequest{MovieID: "m1", Rating: 2, UserID: "u1"})
	require.NoError(t, err)

	persist := f.queue.OfType(jobs.TypePersistRating)
	require.Len(t, persist, 1)
	assert.Equal(t, time.Second, persist[0].Delay)
	assert.Equal(t, 3, persist[0].MaxAttempts)
	assert.Equal(t, jobs.PriorityCritical, persist[0].Priority)
	var pp jobs.PersistRatingPayload
	jobstest.Payload(persist[0], &pp)
	assert.Equal(t, resp.ID, pp.RatingID)

	stats := f.queue.OfType(jobs.TypeSyncStats)
	require.Len(t, stats, 1)
	assert.Equal(t, 3*time.Second, stats[0].Delay)
	assert.Equal(t, 2, stats[0].MaxAttempts)
	var sp jobs.SyncStatsPayload
	jobstest.Payload(stats[0], &sp)
	assert.Equal(t, jobs.SyncStatsPayload{MovieID: "m1", Rating: 2}, sp)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.SubmitRequest
		want error
	}{
		{"zero", domain.SubmitRequest{MovieID: "m1", Rating: 0, UserID: "u1"}, domain.ErrInvalidRating},
		{"six", domain.SubmitRequest{MovieID: "m1", Rating: 6, UserID: "u1"}, domain.ErrInvalidRating},
		{"fraction", domain.SubmitRequest{MovieID: "m1", Rating: 4.5, UserID: "u1"}, domain.ErrInvalidRating},
		{"missing rating", domain.SubmitRequest{MovieID: "m1", UserID: "u1"}, domain.ErrInvalidRating},
		{"no viewer", domain.SubmitRequest{MovieID: "m1", Rating: 3}, domain.ErrMissingViewer},
		{"no movie", domain.SubmitRequest{Rating: 3, UserID: "u1"}, domain.ErrInvalidMovie},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, domain.IsValidationError(err))
		})
	}

	assert.Empty(t, f.queue.Jobs())
	assert.False(t, f.redis.Exists(domain.PendingQueueKey))
}

func TestSubmitUsesClientIPFromContext(t *testing.T) {
	f := setup(t)
	ctx := obscontext.WithClient(context.Background(), "192.0.2.7", "ua")

	resp, err := f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 3})
	require.NoError(t, err)

	assert.False(t, f.redis.Exists("dup:m1:192.0.2.7"))
	assert.Equal(t, "192.0.2.7", f.redis.HGet(domain.RatingKey(resp.ID), domain.FieldIPAddress))
}

func TestConcurrentSubmissionsAggregate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var want float64
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		value := i%5 + 1
		want += float64(value)
		wg.Add(1)
		go func(i, value int) {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: value, UserID: fmt.Sprintf("u%d", i)})
			errs <- err
		}(i, value)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sum, _ := f.redis.Get(domain.SumKey("m1"))
	count, _ := f.redis.Get(domain.CountKey("m1"))
	assert.Equal(t, fmt.Sprint(want), sum)
	assert.Equal(t, fmt.Sprint(n), count)

	pending, err := f.redis.List(domain.PendingQueueKey)
	require.NoError(t, err)
	assert.Len(t, pending, n)
}

func TestSubmitRejectsSameUserWithNewSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 5, UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 1, UserID: "u1", SessionID: "s2"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRating)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 1, SessionID: "s1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRating)

	sum, _ := f.redis.Get(domain.SumKey("m1"))
	count, _ := f.redis.Get(domain.CountKey("m1"))
	assert.Equal(t, "5", sum)
	assert.Equal(t, "1", count)
	pending, err := f.redis.List(domain.PendingQueueKey)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestConcurrentSubmissionsFromOneViewer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 5, UserID: "u1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateRating)
	}
	assert.Equal(t, 1, accepted)

	count, _ := f.redis.Get(domain.CountKey("m1"))
	assert.Equal(t, "1", count)
	assert.Len(t, f.queue.OfType(jobs.TypePersistRating), 1)
}

func TestSubmitAllowsIPOnlyViewersBehindOneAddress(t *testing.T) {
	f := setup(t)
	ctx := obscontext.WithClient(context.Background(), "198.51.100.4", "ua")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 4})
		require.NoError(t, err)
	}

	count, _ := f.redis.Get(domain.CountKey("m1"))
	assert.Equal(t, "2", count)
}

func TestSubmitSurvivesCacheOutage(t *testing.T) {
	f := setup(t)
	f.redis.Close()

	resp, err := f.svc.Submit(context.Background(), domain.SubmitRequest{MovieID: "m1", Rating: 5, UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, resp.AverageRating)
	assert.Zero(t, resp.TotalRatings)
	assert.Len(t, f.queue.Jobs(), 2)
}

func TestSubmitIgnoresQueueFailure(t *testing.T) {
	f := setup(t)
	f.queue.Err = errors.New("queue down")

	resp, err := f.svc.Submit(context.Background(), domain.SubmitRequest{MovieID: "m1", Rating: 1, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.TotalRatings)
}

func TestSubmitPublishesRatingRecorded(t *testing.T) {
	f := setup(t)

	got := make(chan events.RatingRecorded, 1)
	f.bus.Subscribe(events.TopicRatingRecorded, func(_ context.Context, evt events.Event) error {
		got <- evt.(events.RatingRecorded)
		return nil
	})

	resp, err := f.svc.Submit(context.Background(), domain.SubmitRequest{MovieID: "m9", Rating: 4, UserID: "u1"})
	require.NoError(t, err)
	f.bus.Close()

	evt := <-got
	assert.Equal(t, resp.ID, evt.RatingID)
	assert.Equal(t, "m9", evt.MovieID)
	assert.Equal(t, 4, evt.Rating)
}

func TestListRatings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.store.InsertRatings(ctx, []domain.Rating{
		{ID: "01A", MovieID: "m1", Value: 5, UserID: domain.OptionalString("u1"), CreatedAt: time.Now().UTC()},
		{ID: "01B", MovieID: "m1", Value: 3, UserID: domain.OptionalString("u2"), CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	resp, err := f.svc.List(ctx, domain.ListRatingsRequest{MovieID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Ratings, 2)
	assert.Equal(t, "01B", resp.Ratings[0].ID)

	empty, err := f.svc.List(ctx, domain.ListRatingsRequest{MovieID: "m2"})
	require.NoError(t, err)
	assert.NotNil(t, empty.Ratings)

	_, err = f.svc.List(ctx, domain.ListRatingsRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidMovie)
}
