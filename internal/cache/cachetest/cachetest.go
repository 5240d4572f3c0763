// Package cachetest backs cache.Store with an in-process Redis for tests.
package cachetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

// New returns a store on a fresh miniredis server and the server itself, so
// tests can inspect keys or simulate an outage with Close.
func New(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	m := metrics.NewPipelineMetricsForTest(prometheus.NewRegistry())
	return cache.NewRedisStore(client, zaptest.NewLogger(t), m), srv, client
}
