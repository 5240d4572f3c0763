package rating

import (
	"context"
	"testing"

	"github.com/marquee/catalog/internal/cache/cachetest"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/jobs/jobstest"
	"github.com/marquee/catalog/internal/rating/dedup"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/internal/rating/ratingtest"
	"github.com/marquee/catalog/internal/rating/service"
	"github.com/marquee/catalog/internal/rating/stats"
	"github.com/marquee/catalog/internal/rating/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubmittedRatingFlowsThroughJobs(t *testing.T) {
	log := zaptest.NewLogger(t)
	kv, _, _ := cachetest.New(t)
	store, _ := ratingtest.NewStore(t)
	cfg := config.NewStaticPipelineConfig(config.DefaultPipelineConfig())
	queue := &jobstest.Recorder{}

	svc := service.NewService(service.ServiceParam{
		Log:    log,
		Cache:  kv,
		Store:  store,
		Guard:  dedup.NewGuard(dedup.Params{Cache: kv, Store: store, Log: log, Config: cfg}),
		Queue:  queue,
		Config: cfg,
	})
	worker := jobs.NewWorker(jobs.WorkerParams{Log: log})
	RegisterJobs(worker,
		writer.NewWriter(writer.Params{Log: log, Cache: kv, Store: store, Config: cfg}),
		stats.NewSynchronizer(stats.Params{Log: log, Cache: kv, Store: store}),
	)
	assert.ElementsMatch(t, []string{jobs.TypePersistRating, jobs.TypeSyncStats, jobs.TypeSyncStatsBatch}, worker.Types())

	ctx := context.Background()
	_, err := svc.Submit(ctx, domain.SubmitRequest{MovieID: "m1", Rating: 4, UserID: "u1"})
	require.NoError(t, err)

	for _, job := range queue.Jobs() {
		require.NoError(t, worker.Handle(ctx, job.Type, job.Payload), job.Type)
	}

	total, err := store.CountByMovie(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	row, err := store.GetStatistics(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 4.0, row.AverageRating)
	assert.Equal(t, int64(1), row.FourStarCount)
	assert.Equal(t, int64(1), row.RecentRatingsCount)
}

func TestMalformedJobPayloadIsPermanent(t *testing.T) {
	log := zaptest.NewLogger(t)
	kv, _, _ := cachetest.New(t)
	store, _ := ratingtest.NewStore(t)
	worker := jobs.NewWorker(jobs.WorkerParams{Log: log})
	RegisterJobs(worker,
		writer.NewWriter(writer.Params{Log: log, Cache: kv, Store: store}),
		stats.NewSynchronizer(stats.Params{Log: log, Cache: kv, Store: store}),
	)

	err := worker.Handle(context.Background(), jobs.TypePersistRating, []byte("{"))
	assert.True(t, jobs.IsPermanent(err))
}
