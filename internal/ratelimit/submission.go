package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/marquee/catalog/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keySubmissionClient = "ratelimit:ratings:%s"

// SubmissionLimiter throttles rating submissions per client address.
type SubmissionLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
	log     *zap.Logger
}

func NewSubmissionLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*SubmissionLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return &SubmissionLimiter{}, nil
	}
	if limitCfg.SubmissionRate <= 0 || limitCfg.SubmissionBurst <= 0 {
		return nil, fmt.Errorf("rating submission rate limit must be positive")
	}
	return &SubmissionLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.SubmissionRate,
		burst:   limitCfg.SubmissionBurst,
		log:     log.Named("ratelimit"),
	}, nil
}

func (l *SubmissionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow reports whether the client may submit now. Limiter errors fail open:
// the limiter must never make the intake path less available than the cache
// behind it.
func (l *SubmissionLimiter) Allow(ctx context.Context, clientIP string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	key := fmt.Sprintf(keySubmissionClient, strings.TrimSpace(clientIP))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return Result{Allowed: true, Limit: l.burst}
	}
	return res
}
