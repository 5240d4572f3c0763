package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/observability/logger"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/marquee/catalog/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const syncConcurrency = 8

type Params struct {
	fx.In

	Log       *zap.Logger
	Cache     cache.Store
	Store     domain.Store
	Publisher events.Publisher         `optional:"true"`
	Clock     clock.Clock              `optional:"true"`
	Metrics   *metrics.PipelineMetrics `optional:"true"`
}

// Synchronizer copies live cache counters into the durable aggregate rows.
type Synchronizer struct {
	log       *zap.Logger
	cache     cache.Store
	store     domain.Store
	publisher events.Publisher
	clock     clock.Clock
	metrics   *metrics.PipelineMetrics
}

func NewSynchronizer(p Params) *Synchronizer {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Synchronizer{
		log:       p.Log.Named("rating.stats"),
		cache:     p.Cache,
		store:     p.Store,
		publisher: p.Publisher,
		clock:     clk,
		metrics:   p.Metrics,
	}
}

// SyncMovie reports whether anything was written. A movie without cached
// ratings is skipped so durable zero-state is never overwritten.
func (s *Synchronizer) SyncMovie(ctx context.Context, movieID string) (bool, error) {
	movieID = strings.TrimSpace(movieID)
	if movieID == "" {
		return false, domain.ErrInvalidMovie
	}
	log := logger.WithMovie(logger.WithContext(ctx, s.log), movieID)

	count := cache.ParseInt(s.cache.Get(ctx, domain.CountKey(movieID)))
	if count <= 0 {
		s.metrics.IncStatsSync(metrics.OutcomeSkipped)
		log.Debug("no cached ratings, skipping sync")
		return false, nil
	}
	sum := cache.ParseFloat(s.cache.Get(ctx, domain.SumKey(movieID)))
	recent := cache.ParseInt(s.cache.Get(ctx, domain.RecentKey(movieID)))

	now := s.clock.Now().UTC()
	average := sum / float64(count)
	row := domain.MovieStatistics{
		MovieID:            movieID,
		AverageRating:      average,
		TotalRatings:       count,
		RecentRatingsCount: recent,
		TrendingScore:      TrendingScore(average, count, recent),
		LastCalculatedAt:   now,
	}
	for n := domain.MinValue; n <= domain.MaxValue; n++ {
		row.SetBucket(n, cache.ParseInt(s.cache.Get(ctx, domain.BucketKey(movieID, n))))
	}

	if err := s.store.UpdateMovieSummary(ctx, movieID, average, count); err != nil {
		if !errors.Is(err, domain.ErrMovieNotFound) {
			s.metrics.IncStatsSync(metrics.OutcomeFailed)
			return false, fmt.Errorf("update movie summary: %w", err)
		}
		log.Warn("movie record not found, writing statistics only")
	}
	if err := s.store.UpsertStatistics(ctx, row); err != nil {
		s.metrics.IncStatsSync(metrics.OutcomeFailed)
		return false, fmt.Errorf("upsert statistics: %w", err)
	}
	s.metrics.IncStatsSync(metrics.OutcomeSynced)

	if s.publisher != nil {
		evt := events.AggregateSynced{
			MovieID:       movieID,
			AverageRating: average,
			TotalRatings:  count,
			TrendingScore: row.TrendingScore,
			At:            now,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			log.Warn("publish aggregate event failed", zap.Error(err))
		}
	}

	log.Debug("statistics synced",
		zap.Float64("average", average),
		zap.Int64("total", count),
		zap.Int64("recent", recent),
	)
	return true, nil
}

// SyncMovies syncs every id with bounded concurrency. A failing movie does
// not stop the others; all failures are returned joined.
func (s *Synchronizer) SyncMovies(ctx context.Context, movieIDs []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(syncConcurrency)

	for _, id := range movieIDs {
		g.Go(func() error {
			if _, err := s.SyncMovie(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("movie %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
