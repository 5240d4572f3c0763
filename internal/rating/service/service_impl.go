package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	"github.com/marquee/catalog/internal/jobs"
	obscontext "github.com/marquee/catalog/internal/observability/context"
	"github.com/marquee/catalog/internal/observability/logger"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/marquee/catalog/internal/observability/tracing"
	"github.com/marquee/catalog/internal/rating/dedup"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tracerName = "marquee/rating"

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Cache     cache.Store
	Store     domain.Store
	Guard     *dedup.Guard
	Queue     jobs.Queue
	Publisher events.Publisher             `optional:"true"`
	Config    *config.PipelineConfigHolder `optional:"true"`
	Clock     clock.Clock                  `optional:"true"`
	Metrics   *metrics.PipelineMetrics     `optional:"true"`
	Meter     *metrics.Metrics             `optional:"true"`
}

// Service accepts ratings into the cache only. Durability and aggregation
// happen in background jobs.
type Service struct {
	log       *zap.Logger
	cache     cache.Store
	store     domain.Store
	guard     *dedup.Guard
	queue     jobs.Queue
	publisher events.Publisher
	cfg       *config.PipelineConfigHolder
	clock     clock.Clock
	metrics   *metrics.PipelineMetrics
	meter     *metrics.Metrics

	jitter func(max time.Duration) time.Duration
}

func NewService(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		log:       p.Log.Named("rating.service"),
		cache:     p.Cache,
		store:     p.Store,
		guard:     p.Guard,
		queue:     p.Queue,
		publisher: p.Publisher,
		cfg:       p.Config,
		clock:     clk,
		metrics:   p.Metrics,
		meter:     p.Meter,
		jitter:    randomJitter,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "rating.submit", attribute.String("movie_id", req.MovieID))
	defer span.End()

	resp, err := s.submit(ctx, req)
	switch {
	case err == nil:
		s.metrics.IncRatingSubmitted(metrics.OutcomeAccepted)
		s.meter.RecordRatingAccepted(ctx, resp.Rating)
	case domain.IsValidationError(err):
		s.metrics.IncRatingSubmitted(metrics.OutcomeInvalid)
	case errors.Is(err, domain.ErrDuplicateRating):
		s.metrics.IncRatingSubmitted(metrics.OutcomeDuplicate)
	default:
		s.metrics.IncRatingSubmitted(metrics.OutcomeFailed)
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "submit failed")
		logger.WithContext(ctx, s.log).Error("rating submission failed", zap.String("movie_id", req.MovieID), zap.Error(err))
	}
	return resp, err
}

func (s *Service) submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error) {
	start := s.clock.Now()

	movieID := strings.TrimSpace(req.MovieID)
	if movieID == "" {
		return nil, domain.ErrInvalidMovie
	}
	value, err := domain.ParseValue(req.Rating)
	if err != nil {
		return nil, err
	}

	ip, userAgent := obscontext.ClientFromContext(ctx)
	if v := strings.TrimSpace(req.IPAddress); v != "" {
		ip = v
	}
	if v := strings.TrimSpace(req.UserAgent); v != "" {
		userAgent = v
	}
	viewer, err := domain.NewViewer(req.SessionID, req.UserID, ip)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Check(ctx, movieID, viewer); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	rating := domain.Rating{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		MovieID:   movieID,
		Value:     value.Int(),
		SessionID: domain.OptionalString(viewer.SessionID),
		UserID:    domain.OptionalString(viewer.UserID),
		IPAddress: domain.OptionalString(viewer.IPAddress),
		UserAgent: domain.OptionalString(userAgent),
		CreatedAt: now,
	}

	log := logger.WithMovie(logger.WithContext(ctx, s.log), movieID).With(zap.String("rating_id", rating.ID))
	s.writeCache(ctx, log, rating)
	s.enqueueJobs(ctx, log, rating)

	if s.publisher != nil {
		evt := events.RatingRecorded{RatingID: rating.ID, MovieID: movieID, Rating: rating.Value, At: now}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			log.Warn("publish rating event failed", zap.Error(err))
		}
	}

	average, total := s.estimate(ctx, movieID)
	log.Debug("rating accepted", zap.Duration("duration", s.clock.Now().Sub(start)))

	return &domain.SubmitResponse{
		ID:            rating.ID,
		MovieID:       movieID,
		Rating:        rating.Value,
		CreatedAt:     now,
		AverageRating: average,
		TotalRatings:  total,
	}, nil
}

// writeCache submits the rating, the pending queue entry and the counter
// deltas in one pipeline. The duplicate markers were already claimed by the
// guard. Per-operation failures are
// logged only; the drain and the synchronizer reconcile later.
func (s *Service) writeCache(ctx context.Context, log *zap.Logger, rating domain.Rating) {
	cfg := s.cfg.Get()
	entry := domain.NewPendingEntry(rating)
	encoded, err := entry.Encode()
	if err != nil {
		log.Error("encode pending entry failed", zap.Error(err))
		return
	}

	movieID := rating.MovieID
	results := s.cache.Pipeline().
		HSet(domain.RatingKey(rating.ID), entry.Fields()).
		LPush(domain.PendingQueueKey, encoded).
		IncrFloat(domain.SumKey(movieID), float64(rating.Value)).
		Incr(domain.CountKey(movieID), 1).
		Incr(domain.BucketKey(movieID, rating.Value), 1).
		Incr(domain.RecentKey(movieID), 1).
		Expire(domain.RecentKey(movieID), cfg.RecentWindow).
		Exec(ctx)

	if failed := cache.Failed(results); len(failed) > 0 {
		ops := make([]string, 0, len(failed))
		for _, r := range failed {
			ops = append(ops, r.Op+" "+r.Key)
		}
		log.Error("rating cache pipeline partially failed",
			zap.Strings("failed_ops", ops),
			zap.Int("queued_ops", len(results)),
			zap.Error(failed[0].Err),
		)
	}
}

func (s *Service) enqueueJobs(ctx context.Context, log *zap.Logger, rating domain.Rating) {
	cfg := s.cfg.Get()

	persist, err := jobs.NewJob(jobs.TypePersistRating, jobs.PersistRatingPayload{RatingID: rating.ID})
	if err == nil {
		persist.Delay = s.jitter(cfg.PersistJitter)
		persist.MaxAttempts = cfg.PersistAttempts
		persist.Priority = jobs.PriorityCritical
		err = s.queue.Enqueue(ctx, persist)
	}
	if err != nil {
		log.Warn("enqueue persist job failed, relying on drain", zap.Error(err))
	}

	stats, err := jobs.NewJob(jobs.TypeSyncStats, jobs.SyncStatsPayload{MovieID: rating.MovieID, Rating: rating.Value})
	if err == nil {
		stats.Delay = cfg.StatsDelay
		stats.MaxAttempts = cfg.StatsAttempts
		err = s.queue.Enqueue(ctx, stats)
	}
	if err != nil {
		log.Warn("enqueue stats job failed, relying on sweep", zap.Error(err))
	}
}

// estimate derives the optimistic average and count from cache counters.
func (s *Service) estimate(ctx context.Context, movieID string) (float64, int64) {
	sum := cache.ParseFloat(s.cache.Get(ctx, domain.SumKey(movieID)))
	count := cache.ParseInt(s.cache.Get(ctx, domain.CountKey(movieID)))
	if count <= 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func (s *Service) List(ctx context.Context, req domain.ListRatingsRequest) (domain.ListRatingsResponse, error) {
	movieID := strings.TrimSpace(req.MovieID)
	if movieID == "" {
		return domain.ListRatingsResponse{}, domain.ErrInvalidMovie
	}

	ratings, info, err := s.store.ListByMovie(ctx, movieID, req.Pagination)
	if err != nil {
		return domain.ListRatingsResponse{}, err
	}
	total, err := s.store.CountByMovie(ctx, movieID)
	if err != nil {
		return domain.ListRatingsResponse{}, err
	}
	if ratings == nil {
		ratings = []*domain.Rating{}
	}
	return domain.ListRatingsResponse{PageInfo: *info, Total: total, Ratings: ratings}, nil
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
