// Package metricspush periodically pushes catalog-wide gauges to an external
// Prometheus collector, for deployments that are not scraped.
package metricspush

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/marquee/catalog/internal/cache"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CatalogMetrics owns a private registry so pushes carry only these gauges.
type CatalogMetrics struct {
	registry *prometheus.Registry
	db       *gorm.DB
	cache    cache.Store
	log      *zap.Logger

	movies       prometheus.Gauge
	ratings      prometheus.Gauge
	pending      prometheus.Gauge
	activeMovies prometheus.Gauge
	memory       prometheus.Gauge
	collectErrs  *prometheus.CounterVec
}

func NewCatalogMetrics(db *gorm.DB, store cache.Store, log *zap.Logger) *CatalogMetrics {
	registry := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "marquee", Subsystem: "catalog", Name: name, Help: help})
		registry.MustRegister(g)
		return g
	}

	m := &CatalogMetrics{
		registry:     registry,
		db:           db,
		cache:        store,
		log:          log.Named("metrics.push"),
		movies:       factory("movies", "Movies in durable storage."),
		ratings:      factory("ratings", "Ratings in durable storage."),
		pending:      factory("pending_ratings", "Entries waiting in the pending queue."),
		activeMovies: factory("active_movies", "Movies in the current active set."),
		memory:       factory("process_memory_bytes", "Memory obtained from the OS by this process."),
		collectErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marquee",
			Subsystem: "catalog",
			Name:      "collect_errors_total",
			Help:      "Failed gauge refreshes by source.",
		}, []string{"source"}),
	}
	registry.MustRegister(m.collectErrs)
	return m
}

func (m *CatalogMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Collect refreshes every gauge. A failing source keeps its last value.
func (m *CatalogMetrics) Collect(ctx context.Context) {
	if m.db != nil {
		var movies, ratings int64
		if err := m.db.WithContext(ctx).Model(&moviedomain.Movie{}).Count(&movies).Error; err != nil {
			m.fail("movies", err)
		} else {
			m.movies.Set(float64(movies))
		}
		if err := m.db.WithContext(ctx).Model(&ratingdomain.Rating{}).Count(&ratings).Error; err != nil {
			m.fail("ratings", err)
		} else {
			m.ratings.Set(float64(ratings))
		}
	}

	if m.cache != nil {
		m.pending.Set(float64(m.cache.LLen(ctx, ratingdomain.PendingQueueKey)))

		var active []json.RawMessage
		if m.cache.GetJSON(ctx, ratingdomain.ActiveMoviesKey, &active) {
			m.activeMovies.Set(float64(len(active)))
		} else {
			m.activeMovies.Set(0)
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memory.Set(float64(mem.Sys))
}

func (m *CatalogMetrics) fail(source string, err error) {
	m.collectErrs.WithLabelValues(source).Inc()
	m.log.Warn("catalog gauge refresh failed", zap.String("source", source), zap.Error(err))
}
