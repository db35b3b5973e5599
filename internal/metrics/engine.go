// Package metrics turns raw index series into bounded indicators: a trailing-window
// percentile rank for valuation metrics and a trailing-window drawdown for prices.
package metrics

import (
	"sort"
	"time"

	"github.com/rewired-gh/indexwatch/internal/models"
)

type Config struct {
	WindowYears    int
	PrimaryMetrics []string
	CheapBelow     float64
	ExpensiveAbove float64
}

func DefaultConfig() Config {
	return Config{
		WindowYears:    10,
		PrimaryMetrics: []string{models.MetricPE, models.MetricPB},
		CheapBelow:     30,
		ExpensiveAbove: 70,
	}
}

// Engine computes indicator snapshots. It holds no state besides its config
// and is safe for concurrent use.
type Engine struct {
	config Config
}

func New(config Config) *Engine {
	return &Engine{config: config}
}

func (e *Engine) Config() Config {
	return e.config
}

// ComputeSnapshot derives the indicators of one index. A missing or empty
// series only blanks the fields that depend on it.
func (e *Engine) ComputeSnapshot(indexID string, price models.Series, valuations map[string]models.Series) models.IndicatorSnapshot {
	snap := models.IndicatorSnapshot{
		IndexID: indexID,
		Metrics: make(map[string]models.MetricIndicator, len(valuations)+1),
	}

	snap.Drawdown = Drawdown(price, e.config.WindowYears)
	snap.Metrics[models.MetricPrice] = models.MetricIndicator{Current: CurrentValue(price)}
	snap.AsOf = latestDate(snap.AsOf, price)

	names := make([]string, 0, len(valuations))
	for name := range valuations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := valuations[name]
		snap.Metrics[name] = models.MetricIndicator{
			Current:    CurrentValue(s),
			Percentile: PercentileRank(s, e.config.WindowYears),
		}
		snap.AsOf = latestDate(snap.AsOf, s)
	}

	for _, name := range e.config.PrimaryMetrics {
		m, ok := snap.Metrics[name]
		if !ok || name == models.MetricPrice || m.Current == nil {
			continue
		}
		snap.PrimaryMetric = name
		snap.PercentileRank = m.Percentile
		snap.LatestValue = m.Current
		break
	}
	snap.Zone = Classify(snap.PercentileRank, e.config.CheapBelow, e.config.ExpensiveAbove)

	return snap
}

// ComputeHistory splits a stored history into price and valuation series and
// computes its snapshot.
func (e *Engine) ComputeHistory(h models.IndexHistory) models.IndicatorSnapshot {
	valuations := make(map[string]models.Series, len(h.Series))
	for name, s := range h.Series {
		if name == models.MetricPrice {
			continue
		}
		valuations[name] = s
	}
	return e.ComputeSnapshot(h.IndexID, h.Get(models.MetricPrice), valuations)
}

func latestDate(current time.Time, s models.Series) time.Time {
	for _, p := range s.Points {
		if p.Present() && p.Date.After(current) {
			current = models.Date(p.Date)
		}
	}
	return current
}
