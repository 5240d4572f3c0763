package metricspush

import (
	"context"
	"time"

	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultInterval = time.Minute

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Provide(func(db *gorm.DB, store cache.Store, log *zap.Logger) *CatalogMetrics {
		return NewCatalogMetrics(db, store, log)
	}),
	fx.Provide(NewReporter),
	fx.Invoke(run),
)

// Reporter refreshes the catalog gauges and pushes them.
type Reporter struct {
	metrics  *CatalogMetrics
	pusher   Pusher
	interval time.Duration
	log      *zap.Logger
}

func NewReporter(cfg config.Config, m *CatalogMetrics, pusher Pusher, log *zap.Logger) *Reporter {
	interval := time.Duration(cfg.Push.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reporter{
		metrics:  m,
		pusher:   pusher,
		interval: interval,
		log:      log.Named("metrics.push"),
	}
}

func (r *Reporter) RunOnce(ctx context.Context) error {
	r.metrics.Collect(ctx)
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	return r.pusher.Push(pushCtx, r.metrics.Registry())
}

func (r *Reporter) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.RunOnce(ctx); err != nil {
		r.log.Warn("initial metrics push failed", zap.Error(err))
	}
	for {
		select {
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.log.Warn("periodic metrics push failed", zap.Error(err))
			}
		case <-ctx.Done():
			r.log.Info("stopping metrics push")
			return
		}
	}
}

func run(lc fx.Lifecycle, r *Reporter, pusher Pusher) {
	if pusher == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go r.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
