package search

import (
	"context"
	"fmt"
	"time"

	"github.com/marquee/catalog/internal/config"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SyncerParams struct {
	fx.In

	Log    *zap.Logger
	Index  Index
	Movies moviedomain.Reader
	Config *config.PipelineConfigHolder `optional:"true"`
}

// Syncer rebuilds the index from the catalog.
type Syncer struct {
	log    *zap.Logger
	index  Index
	movies moviedomain.Reader
	cfg    *config.PipelineConfigHolder

	pause func(ctx context.Context, d time.Duration) error
}

func NewSyncer(p SyncerParams) *Syncer {
	return &Syncer{
		log:    p.Log.Named("search.syncer"),
		index:  p.Index,
		movies: p.Movies,
		cfg:    p.Config,
		pause:  sleep,
	}
}

type BulkSyncResult struct {
	Total   int64 `json:"total"`
	Indexed int   `json:"indexed"`
	Failed  int   `json:"failed"`
}

// BulkSync indexes every movie in pages of batchSize. A failing page is
// counted and skipped.
func (s *Syncer) BulkSync(ctx context.Context, batchSize int) (BulkSyncResult, error) {
	cfg := s.cfg.Get()
	if batchSize <= 0 {
		batchSize = cfg.BulkSyncBatch
	}

	var result BulkSyncResult
	total, err := s.movies.Count(ctx)
	if err != nil {
		return result, fmt.Errorf("count movies: %w", err)
	}
	result.Total = total

	for offset := 0; int64(offset) < total; offset += batchSize {
		if offset > 0 {
			if err := s.pause(ctx, cfg.BulkSyncPause); err != nil {
				return result, err
			}
		}

		page, err := s.movies.Page(ctx, offset, batchSize)
		if err != nil {
			return result, fmt.Errorf("load movies at %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		docs := make([]Document, 0, len(page))
		for _, d := range page {
			docs = append(docs, BuildDocument(d))
		}

		indexed, err := s.index.BulkIndex(ctx, docs)
		if err != nil {
			s.log.Warn("bulk index batch failed", zap.Int("offset", offset), zap.Error(err))
			result.Failed += len(docs)
			continue
		}
		result.Indexed += indexed
		result.Failed += len(docs) - indexed
	}

	s.log.Info("bulk sync finished",
		zap.Int64("total", result.Total),
		zap.Int("indexed", result.Indexed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// Initialize makes sure the index exists and backfills it when it holds
// noticeably fewer documents than the catalog. An unreachable index only
// logs.
func (s *Syncer) Initialize(ctx context.Context) error {
	healthy, err := s.index.Healthy(ctx)
	if err != nil || !healthy {
		s.log.Warn("search index unavailable, skipping initialization", zap.Error(err))
		return nil
	}
	if err := s.index.CreateIndex(ctx); err != nil {
		return err
	}

	var (
		movies int64
		stats  Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		movies, err = s.movies.Count(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.index.Stats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	minDocs := float64(movies) * s.cfg.Get().BulkSyncMinRatio
	if movies == 0 || float64(stats.DocCount) >= minDocs {
		s.log.Info("search index up to date",
			zap.Int64("movies", movies),
			zap.Int64("documents", stats.DocCount),
		)
		return nil
	}

	s.log.Info("search index behind catalog, running bulk sync",
		zap.Int64("movies", movies),
		zap.Int64("documents", stats.DocCount),
	)
	_, err = s.BulkSync(ctx, 0)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
