package metrics

import (
	"math"

	"github.com/rewired-gh/indexwatch/internal/models"
)

// PercentileRank is the share of windowed values at or below the latest one, in [0,100].
// The latest value always counts itself, so a new low gives 100/N and a new high gives 100.
func PercentileRank(s models.Series, years int) *float64 {
	window := Window(s, years)
	if len(window) == 0 {
		return nil
	}
	current := window[len(window)-1]
	below := 0
	for _, v := range window {
		if v <= current {
			below++
		}
	}
	return clamp(float64(below)/float64(len(window))*100.0, 0, 100)
}

// Drawdown is the fall of the latest price from the running peak up to it, in [0,1].
// The peak is a left-to-right cumulative maximum inside the window.
func Drawdown(price models.Series, years int) *float64 {
	window := Window(price, years)
	if len(window) == 0 {
		return nil
	}
	peak := math.Inf(-1)
	for _, v := range window {
		if v > peak {
			peak = v
		}
	}
	current := window[len(window)-1]
	if peak <= 0 {
		// a non-positive peak has no meaningful fall
		return models.Float(0)
	}
	return clamp(1.0-current/peak, 0, 1)
}

// CurrentValue returns the latest present observation of s.
func CurrentValue(s models.Series) *float64 {
	points := present(s)
	if len(points) == 0 {
		return nil
	}
	return models.Float(*points[len(points)-1].Value)
}

// Classify maps a percentile rank to a valuation zone; an absent rank has no zone.
func Classify(pct *float64, cheapBelow, expensiveAbove float64) string {
	if pct == nil {
		return ""
	}
	switch {
	case *pct < cheapBelow:
		return models.ZoneUndervalued
	case *pct > expensiveAbove:
		return models.ZoneOvervalued
	default:
		return models.ZoneFair
	}
}

func clamp(v, lo, hi float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return models.Float(math.Max(lo, math.Min(hi, v)))
}
