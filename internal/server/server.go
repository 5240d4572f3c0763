package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marquee/catalog/internal/config"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/internal/observability"
	obsmiddleware "github.com/marquee/catalog/internal/observability/logger"
	obsmetrics "github.com/marquee/catalog/internal/observability/metrics"
	obstracing "github.com/marquee/catalog/internal/observability/tracing"
	"github.com/marquee/catalog/internal/ratelimit"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/internal/rating/stats"
	"github.com/marquee/catalog/internal/rating/writer"
	"github.com/marquee/catalog/internal/search"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the public API and the admin triggers on one listener.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterAdminRoutes()
	}),
	fx.Invoke(RunHTTP),
)

type engineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p engineParams) *gin.Engine {
	return newEngine(p.ObsCfg, p.HTTPMetrics)
}

func newEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	ratingSvc    ratingdomain.Service
	movieSvc     moviedomain.Service
	limiter      *ratelimit.SubmissionLimiter
	writer       *writer.Writer
	synchronizer *stats.Synchronizer
	propagator   *search.Propagator
	syncer       *search.Syncer
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	RatingSvc    ratingdomain.Service
	MovieSvc     moviedomain.Service
	Limiter      *ratelimit.SubmissionLimiter `optional:"true"`
	Writer       *writer.Writer               `optional:"true"`
	Synchronizer *stats.Synchronizer          `optional:"true"`
	Propagator   *search.Propagator           `optional:"true"`
	Syncer       *search.Syncer               `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http"),
		ratingSvc:    p.RatingSvc,
		movieSvc:     p.MovieSvc,
		limiter:      p.Limiter,
		writer:       p.Writer,
		synchronizer: p.Synchronizer,
		propagator:   p.Propagator,
		syncer:       p.Syncer,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	movies := api.Group("/movies")
	movies.POST("", s.CreateMovie)
	movies.GET("", s.ListMovies)
	movies.GET("/:id", s.GetMovie)
	movies.PATCH("/:id", s.UpdateMovie)
	movies.GET("/:id/stats", s.GetMovieStatistics)

	movies.POST("/:id/ratings", s.SubmissionRateLimit(), s.SubmitRating)
	movies.GET("/:id/ratings", s.ListRatings)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.POST("/sync/movies/:id/rating", s.SyncMovieRating)
	admin.POST("/sync/bulk", s.BulkSync)
	admin.POST("/ratings/drain", s.DrainRatings)
}
