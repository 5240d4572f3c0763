// Package dedup enforces one rating per viewer per movie.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/marquee/catalog/internal/cache"
	"github.com/marquee/catalog/internal/config"
	"github.com/marquee/catalog/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cache  cache.Store
	Store  domain.Store
	Log    *zap.Logger
	Config *config.PipelineConfigHolder `optional:"true"`
}

// Guard claims the cache markers first and falls back to durable storage,
// which is authoritative.
type Guard struct {
	cache cache.Store
	store domain.Store
	log   *zap.Logger
	cfg   *config.PipelineConfigHolder
}

func NewGuard(p Params) *Guard {
	return &Guard{
		cache: p.Cache,
		store: p.Store,
		log:   p.Log.Named("rating.dedup"),
		cfg:   p.Config,
	}
}

// Check returns ErrDuplicateRating when the viewer already rated movieID.
// Every id the viewer carries is claimed with SET NX, so of two concurrent
// submissions only one gets past the claim. A claim that survives Check is
// the viewer's duplicate marker. Durable lookup errors release the claims
// and are returned as-is so the submission fails closed.
func (g *Guard) Check(ctx context.Context, movieID string, viewer domain.Viewer) error {
	ttl := g.ttl()
	keys := domain.DuplicateKeys(movieID, viewer)
	claimed := make([]string, 0, len(keys))
	for _, key := range keys {
		set, ok := g.cache.SetNX(ctx, key, domain.DuplicateMarker, ttl)
		if !ok {
			// cache unavailable, durable storage decides
			continue
		}
		if !set {
			g.release(ctx, claimed)
			return domain.ErrDuplicateRating
		}
		claimed = append(claimed, key)
	}

	existing, err := g.store.FindDuplicate(ctx, movieID, viewer)
	if err != nil {
		g.release(ctx, claimed)
		return fmt.Errorf("duplicate lookup: %w", err)
	}
	if existing == nil {
		return nil
	}

	g.log.Debug("duplicate found in durable storage",
		zap.String("movie_id", movieID),
		zap.String("existing_rating_id", existing.ID),
	)
	return domain.ErrDuplicateRating
}

func (g *Guard) release(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	g.cache.Delete(context.WithoutCancel(ctx), keys...)
}

func (g *Guard) ttl() time.Duration {
	return g.cfg.Get().DuplicateTTL
}
