package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrendingScoreZeroTotal(t *testing.T) {
	assert.Zero(t, TrendingScore(0, 0, 0))
	assert.Zero(t, TrendingScore(4.5, 0, 10))
}

func TestTrendingScoreKnownValue(t *testing.T) {
	// p=1, n=1: (1 + z²/2 - z·√(z²/4)) / (1 + z²) = 1 / 4.8416
	assert.InDelta(t, 20.654, TrendingScore(5, 1, 0), 0.001)
}

func TestTrendingScoreMonotonicInAverage(t *testing.T) {
	for _, total := range []int64{1, 3, 10, 250, 10000} {
		prev := -1.0
		for avg := 0.0; avg <= 5.0; avg += 0.25 {
			score := TrendingScore(avg, total, 0)
			assert.GreaterOrEqual(t, score, prev, "total=%d avg=%v", total, avg)
			prev = score
		}
	}
}

func TestTrendingScoreRecencyNeverDecreases(t *testing.T) {
	for _, avg := range []float64{1, 2.5, 4.2, 5} {
		prev := -1.0
		for recent := int64(0); recent <= 50; recent += 5 {
			score := TrendingScore(avg, 50, recent)
			assert.GreaterOrEqual(t, score, prev, "avg=%v recent=%d", avg, recent)
			prev = score
		}
	}
}

func TestTrendingScoreRewardsConfidence(t *testing.T) {
	assert.Greater(t, TrendingScore(4.5, 500, 0), TrendingScore(4.5, 5, 0))
}

func TestTrendingScoreRecencyMultiplier(t *testing.T) {
	base := TrendingScore(4, 10, 0)
	assert.InDelta(t, base*1.2, TrendingScore(4, 10, 10), 1e-9)
}
