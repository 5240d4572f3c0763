package jobs

import (
	"context"

	"github.com/marquee/catalog/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("jobs",
	fx.Provide(NewWorker),
	fx.Provide(provideQueue),
	fx.Provide(func(q *AsynqQueue) Queue { return q }),
)

// ServerModule consumes jobs. Only worker processes include it.
var ServerModule = fx.Module("jobs.server",
	fx.Provide(NewAsynqServer),
	fx.Invoke(runServer),
)

func provideQueue(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *AsynqQueue {
	q := NewAsynqQueue(cfg, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return q.Close()
		},
	})
	return q
}

func runServer(lc fx.Lifecycle, srv *AsynqServer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(context.Context) error {
			srv.Shutdown()
			return nil
		},
	})
}
