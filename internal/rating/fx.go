package rating

import (
	"context"

	"github.com/marquee/catalog/internal/rating/dedup"
	"github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/internal/rating/repository"
	"github.com/marquee/catalog/internal/rating/service"
	"github.com/marquee/catalog/internal/rating/stats"
	"github.com/marquee/catalog/internal/rating/writer"
	"go.uber.org/fx"
)

var Module = fx.Module("rating.service",
	fx.Provide(repository.Provide),
	fx.Provide(dedup.NewGuard),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(writer.NewWriter),
	fx.Provide(stats.NewSynchronizer),
)

// JobsModule binds the rating job types to their handlers.
var JobsModule = fx.Module("rating.jobs",
	fx.Invoke(RegisterJobs),
)

// DrainModule runs the periodic pending-queue drain.
var DrainModule = fx.Module("rating.drain",
	fx.Invoke(func(lc fx.Lifecycle, w *writer.Writer) { runForever(lc, w.RunForever) }),
)

// SweepModule runs the periodic active-movie statistics sweep.
var SweepModule = fx.Module("rating.sweep",
	fx.Provide(stats.NewSweeper),
	fx.Invoke(func(lc fx.Lifecycle, s *stats.Sweeper) { runForever(lc, s.RunForever) }),
)

func runForever(lc fx.Lifecycle, run func(context.Context)) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go run(ctx)

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
