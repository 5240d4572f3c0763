package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/clock"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/jobs"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/marquee/catalog/internal/ratelimit"
	"github.com/marquee/catalog/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DrainLockKey is held by the instance currently draining the pending queue.
const DrainLockKey = "lock:rating-drain"

var ErrInvalidEntry = errors.New("invalid_pending_entry")

type Params struct {
	fx.In

	Log     *zap.Logger
	Cache   cache.Store
	Store   domain.Store
	Locker  *ratelimit.Locker            `optional:"true"`
	Config  *config.PipelineConfigHolder `optional:"true"`
	Clock   clock.Clock                  `optional:"true"`
	Metrics *metrics.PipelineMetrics     `optional:"true"`
	Meter   *metrics.Metrics             `optional:"true"`
}

// Writer moves cached ratings into durable storage.
type Writer struct {
	log     *zap.Logger
	cache   cache.Store
	store   domain.Store
	locker  *ratelimit.Locker
	cfg     *config.PipelineConfigHolder
	clock   clock.Clock
	metrics *metrics.PipelineMetrics
	meter   *metrics.Metrics
}

func NewWriter(p Params) *Writer {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Writer{
		log:     p.Log.Named("rating.writer"),
		cache:   p.Cache,
		store:   p.Store,
		locker:  p.Locker,
		cfg:     p.Config,
		clock:   clk,
		metrics: p.Metrics,
		meter:   p.Meter,
	}
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Read             int   `json:"read"`
	Inserted         int64 `json:"inserted"`
	AlreadyPersisted int   `json:"already_persisted"`
	Discarded        int   `json:"discarded"`
	// Removed counts queue elements LREM actually deleted; entries a
	// concurrent cycle already took are not counted.
	Removed          int   `json:"removed"`
	Locked           bool  `json:"locked"`
}

// Replay persists a single cached rating. A missing or malformed hash is a
// permanent failure; storage errors are returned for the queue to retry.
func (w *Writer) Replay(ctx context.Context, ratingID string) error {
	ratingID = strings.TrimSpace(ratingID)
	if ratingID == "" {
		return jobs.Permanent(fmt.Errorf("%w: empty rating id", ErrInvalidEntry))
	}

	key := domain.RatingKey(ratingID)
	hash := w.cache.HGetAll(ctx, key)
	if len(hash) == 0 {
		return jobs.Permanent(fmt.Errorf("%w: %s", domain.ErrRatingNotCached, ratingID))
	}
	if hash[domain.FieldPersisted] == domain.PersistedFlag {
		w.log.Debug("rating already persisted", zap.String("rating_id", ratingID))
		return nil
	}

	fields := make(map[string]any, len(hash))
	for k, v := range hash {
		fields[k] = v
	}
	rating, err := Coerce(fields)
	if err != nil {
		return jobs.Permanent(err)
	}

	inserted, err := w.store.InsertRatings(ctx, []domain.Rating{rating})
	if err != nil {
		return fmt.Errorf("persist rating %s: %w", ratingID, err)
	}
	w.meter.RecordRatingsPersisted(ctx, "replay", int(inserted))

	w.cache.HSet(ctx, key, map[string]string{domain.FieldPersisted: domain.PersistedFlag})
	return nil
}

func (w *Writer) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Get().DrainInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("rating drain failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Writer) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.Get().DrainTimeout)
	defer cancel()

	_, err := w.Drain(ctx)
	return err
}

// Drain persists up to one batch from the head of the pending queue. Entries
// leave the queue only after their rows are known to exist; when the insert
// fails nothing is removed and the next cycle retries the same entries.
func (w *Writer) Drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult
	cfg := w.cfg.Get()
	start := w.clock.Now()

	if w.locker != nil {
		token, ok, err := w.locker.TryLock(ctx, DrainLockKey, cfg.DrainLockTTL)
		if err != nil {
			w.metrics.IncDrainRun(metrics.OutcomeFailed)
			return result, fmt.Errorf("acquire drain lock: %w", err)
		}
		if !ok {
			result.Locked = true
			w.metrics.IncDrainRun(metrics.OutcomeLocked)
			return result, nil
		}
		defer func() {
			if err := w.locker.Release(context.WithoutCancel(ctx), DrainLockKey, token); err != nil {
				w.log.Warn("release drain lock failed", zap.Error(err))
			}
		}()
	}

	defer func() {
		w.metrics.ObserveDrainDuration(w.clock.Now().Sub(start))
		w.metrics.SetPendingQueueLength(w.cache.LLen(ctx, domain.PendingQueueKey))
	}()

	entries := w.cache.LRange(ctx, domain.PendingQueueKey, 0, int64(cfg.DrainBatchSize)-1)
	result.Read = len(entries)
	if len(entries) == 0 {
		w.metrics.IncDrainRun(metrics.OutcomeEmpty)
		return result, nil
	}

	var (
		batch     []domain.Rating
		remove    []string
		persisted []string
	)
	for _, raw := range entries {
		rating, err := decodeEntry(raw)
		if err != nil {
			w.log.Warn("discarding malformed pending entry", zap.String("entry", raw), zap.Error(err))
			result.Discarded++
			remove = append(remove, raw)
			continue
		}

		remove = append(remove, raw)
		persisted = append(persisted, rating.ID)
		if flag, _ := w.cache.HGet(ctx, domain.RatingKey(rating.ID), domain.FieldPersisted); flag == domain.PersistedFlag {
			result.AlreadyPersisted++
			continue
		}
		batch = append(batch, rating)
	}

	if len(batch) > 0 {
		inserted, err := w.store.InsertRatings(ctx, batch)
		if err != nil {
			w.metrics.IncDrainRun(metrics.OutcomeInsertFailed)
			w.log.Error("drain insert failed, keeping pending entries",
				zap.Int("batch", len(batch)),
				zap.Error(err),
			)
			return result, fmt.Errorf("insert %d ratings: %w", len(batch), err)
		}
		result.Inserted = inserted
		w.meter.RecordRatingsPersisted(ctx, "drain", int(inserted))
	}

	pipe := w.cache.Pipeline()
	for _, raw := range remove {
		pipe.LRem(domain.PendingQueueKey, 1, raw)
	}
	for _, id := range persisted {
		pipe.HSet(domain.RatingKey(id), map[string]string{domain.FieldPersisted: domain.PersistedFlag})
	}
	results := pipe.Exec(ctx)
	failed := cache.Failed(results)
	for _, r := range results {
		if r.Op == "lrem" && r.Err == nil {
			result.Removed += int(r.N)
		}
	}
	if len(failed) > 0 {
		w.log.Warn("drain cleanup partially failed",
			zap.Int("failed_ops", len(failed)),
			zap.Error(failed[0].Err),
		)
	}

	w.metrics.AddDrainEntries(metrics.OutcomePersisted, len(batch))
	w.metrics.AddDrainEntries(metrics.OutcomeAlreadyPersisted, result.AlreadyPersisted)
	w.metrics.AddDrainEntries(metrics.OutcomeDiscarded, result.Discarded)
	w.metrics.IncDrainRun(metrics.OutcomeOK)

	w.log.Debug("drain cycle finished",
		zap.Int("read", result.Read),
		zap.Int64("inserted", result.Inserted),
		zap.Int("already_persisted", result.AlreadyPersisted),
		zap.Int("discarded", result.Discarded),
	)
	return result, nil
}

func decodeEntry(raw string) (domain.Rating, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return domain.Rating{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return Coerce(fields)
}

// Coerce validates a pending entry or cached hash and converts it into a
// rating row. id, movieId and rating are required; a missing timestamp
// leaves CreatedAt zero for the store to fill.
func Coerce(fields map[string]any) (domain.Rating, error) {
	id := stringField(fields, domain.FieldID)
	if id == "" {
		return domain.Rating{}, fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	movieID := stringField(fields, domain.FieldMovieID)
	if movieID == "" {
		return domain.Rating{}, fmt.Errorf("%w: missing movieId", ErrInvalidEntry)
	}
	raw, ok := fields[domain.FieldRating]
	if !ok {
		return domain.Rating{}, fmt.Errorf("%w: missing rating", ErrInvalidEntry)
	}
	value, err := domain.ParseValue(raw)
	if err != nil {
		return domain.Rating{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	rating := domain.Rating{
		ID:        id,
		MovieID:   movieID,
		Value:     value.Int(),
		SessionID: domain.OptionalString(stringField(fields, domain.FieldSessionID)),
		UserID:    domain.OptionalString(stringField(fields, domain.FieldUserID)),
		IPAddress: domain.OptionalString(stringField(fields, domain.FieldIPAddress)),
		UserAgent: domain.OptionalString(stringField(fields, domain.FieldUserAgent)),
	}
	if ms, ok := millisField(fields, domain.FieldTimestamp); ok {
		rating.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return rating, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func millisField(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil && n > 0
	case float64:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}
