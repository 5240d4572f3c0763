package stats

import "math"

// z score for a 95% confidence interval.
const wilsonZ = 1.96

const recencyWeight = 0.2

// TrendingScore ranks a movie by the Wilson lower bound of its average
// (scaled to a 0-1 proportion) boosted by the share of recent ratings.
func TrendingScore(average float64, total, recent int64) float64 {
	if total <= 0 {
		return 0
	}
	if recent < 0 {
		recent = 0
	}

	p := math.Min(math.Max(average/5, 0), 1)
	n := float64(total)
	z2 := wilsonZ * wilsonZ

	wilson := (p + z2/(2*n) - wilsonZ*math.Sqrt((p*(1-p)+z2/(4*n))/n)) / (1 + z2/n)
	recency := 1 + (float64(recent)/math.Max(n, 1))*recencyWeight

	return wilson * recency * 100
}
