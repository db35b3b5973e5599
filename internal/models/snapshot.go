package models

import (
	"time"
)

// Valuation zones derived from the percentile rank.
const (
	ZoneUndervalued = "undervalued"
	ZoneFair        = "fair"
	ZoneOvervalued  = "overvalued"
)

// MetricIndicator holds the derived values of one metric of an index.
type MetricIndicator struct {
	Current    *float64 `json:"current"`
	Percentile *float64 `json:"percentile,omitempty"`
}

// IndicatorSnapshot is the output contract for one index on one run.
// Nil fields mean the underlying data was absent.
type IndicatorSnapshot struct {
	IndexID        string                     `json:"index_id"`
	AsOf           time.Time                  `json:"as_of"`
	PrimaryMetric  string                     `json:"primary_metric,omitempty"`
	PercentileRank *float64                   `json:"percentile_rank"`
	Drawdown       *float64                   `json:"drawdown"`
	LatestValue    *float64                   `json:"latest_value"`
	Zone           string                     `json:"zone,omitempty"`
	Metrics        map[string]MetricIndicator `json:"metrics"`
}

// Metric returns the indicator for name, zero-valued (all absent) when missing.
func (s IndicatorSnapshot) Metric(name string) MetricIndicator {
	return s.Metrics[name]
}

// RunRecord summarises one pipeline pass.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Indices    int
	Failed     int
	Points     int
}
