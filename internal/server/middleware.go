package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/marquee/catalog/internal/observability/context"
	"github.com/marquee/catalog/internal/observability/logger"
	obsmetrics "github.com/marquee/catalog/internal/observability/metrics"
	"go.uber.org/zap"
)

// SubmissionRateLimit throttles rating submissions per client address. The
// limiter fails open, so only an explicit deny rejects the request.
func (s *Server) SubmissionRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		clientIP, _ := obscontext.ClientFromContext(ctx)
		if clientIP == "" {
			clientIP = c.ClientIP()
		}

		res := s.limiter.Allow(ctx, clientIP)
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			denySubmission(c, normalizeRateLimitEndpoint(c), res.RetryAfter.Seconds(), s.obsMetrics)
			return
		}

		c.Next()
	}
}

func denySubmission(c *gin.Context, endpoint string, retryAfter float64, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rating submission rate limit exceeded",
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, metrics)

	c.Header("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(retryAfter)))))
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitDenied(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
