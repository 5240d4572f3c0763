package events

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(provideBus),
	fx.Provide(func(b *Bus) Publisher { return b }),
)

func provideBus(lc fx.Lifecycle, log *zap.Logger) *Bus {
	bus := NewBus(log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			bus.Close()
			return nil
		},
	})
	return bus
}
