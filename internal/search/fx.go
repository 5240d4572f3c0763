package search

import (
	"context"

	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("search",
	fx.Provide(provideIndex),
	fx.Provide(NewSyncer),
	fx.Provide(NewPropagator),
)

// PropagatorModule keeps the index current from bus events. Include it in
// processes that publish rating or movie events.
var PropagatorModule = fx.Module("search.propagator",
	fx.Invoke(runPropagator),
)

// InitModule checks and backfills the index at startup.
var InitModule = fx.Module("search.init",
	fx.Invoke(runInitialize),
)

func provideIndex(cfg config.Config, log *zap.Logger) (Index, error) {
	if !cfg.Search.Enabled {
		log.Info("search disabled, index writes are dropped")
		return nopIndex{}, nil
	}
	return NewOpenSearchIndex(cfg, log)
}

func runPropagator(lc fx.Lifecycle, p *Propagator, bus *events.Bus) {
	p.Subscribe(bus)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			p.Stop()
			return nil
		},
	})
}

func runInitialize(lc fx.Lifecycle, cfg config.Config, s *Syncer, log *zap.Logger) {
	if !cfg.Search.Enabled || !cfg.Search.InitOnStart {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go func() {
				if err := s.Initialize(ctx); err != nil {
					log.Warn("search index initialization failed", zap.Error(err))
				}
			}()

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
