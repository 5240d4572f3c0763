package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SweeperParams struct {
	fx.In

	Log    *zap.Logger
	Cache  cache.Store
	Queue  jobs.Queue
	Config *config.PipelineConfigHolder `optional:"true"`
}

// Sweeper periodically schedules batch syncs for the active movie set.
type Sweeper struct {
	log   *zap.Logger
	cache cache.Store
	queue jobs.Queue
	cfg   *config.PipelineConfigHolder

	jitter func(max time.Duration) time.Duration
}

func NewSweeper(p SweeperParams) *Sweeper {
	return &Sweeper{
		log:    p.Log.Named("rating.sweep"),
		cache:  p.Cache,
		queue:  p.Queue,
		cfg:    p.Config,
		jitter: randomJitter,
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Get().SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("stats sweep failed", zap.Error(err))
		}
	}
}

// Sweep enqueues one batch job per chunk of active movies and returns the
// number of jobs enqueued. A missing active set is a no-op.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cfg := s.cfg.Get()

	var ids movieIDs
	if !s.cache.GetJSON(ctx, domain.ActiveMoviesKey, &ids) {
		s.log.Warn("active movie set unavailable, skipping sweep")
		return 0, nil
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		enqueued int
		errs     []error
	)
	for _, chunk := range chunks(ids, cfg.SweepBatchSize) {
		job, err := jobs.NewJob(jobs.TypeSyncStatsBatch, jobs.SyncStatsBatchPayload{MovieIDs: chunk})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		job.Delay = s.jitter(cfg.SweepJitter)
		job.MaxAttempts = cfg.StatsAttempts
		job.Priority = jobs.PriorityLow
		if err := s.queue.Enqueue(ctx, job); err != nil {
			errs = append(errs, err)
			continue
		}
		enqueued++
	}

	s.log.Info("stats sweep scheduled",
		zap.Int("movies", len(ids)),
		zap.Int("jobs", enqueued),
	)
	return enqueued, errors.Join(errs...)
}

func chunks(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// movieIDs accepts a JSON array of strings or numbers.
type movieIDs []string

func (m *movieIDs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		var id string
		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &id); err != nil {
				return err
			}
		} else {
			var n json.Number
			dec := json.NewDecoder(bytes.NewReader(item))
			dec.UseNumber()
			if err := dec.Decode(&n); err != nil {
				return err
			}
			id = n.String()
		}
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	*m = out
	return nil
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
