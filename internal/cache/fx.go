package cache

import (
	"context"
	"strings"

	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(
		func(client *redis.Client, log *zap.Logger, m *metrics.PipelineMetrics) *RedisStore {
			return NewRedisStore(client, log, m)
		},
		func(s *RedisStore) Store { return s },
	),
)

// NewRedisClient connects to the shared cache server. A failed ping is
// logged but does not block startup; the store degrades to misses.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Named("cache").Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
