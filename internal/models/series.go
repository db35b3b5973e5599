// Package models defines the core domain entities: time points, series, index histories and indicator snapshots.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used on every boundary.
const DateLayout = "2006-01-02"

// Metric names shared by sources, storage and the metrics engine.
const (
	MetricPrice         = "price"
	MetricPE            = "pe"
	MetricPB            = "pb"
	MetricDividendYield = "dividend_yield"
	MetricROE           = "roe"
	MetricBondYield     = "bond_yield"
)

// TimePoint is one observation of a metric on a calendar date.
// A nil Value means the source produced no observation for that date.
type TimePoint struct {
	Date  time.Time `json:"date"`
	Value *float64  `json:"value"`
}

// Present reports whether the point carries a usable observation.
// NaN and infinities are treated the same as a missing value.
func (p TimePoint) Present() bool {
	return p.Value != nil && !math.IsNaN(*p.Value) && !math.IsInf(*p.Value, 0)
}

// DateKey returns the UTC calendar date in DateLayout form, matching Date.
func (p TimePoint) DateKey() string {
	return Date(p.Date).Format(DateLayout)
}

// Series is the history of one metric for one index.
type Series struct {
	IndexID string      `json:"index_id"`
	Metric  string      `json:"metric"`
	Points  []TimePoint `json:"points"`
}

// Len returns the number of points, present or not.
func (s Series) Len() int {
	return len(s.Points)
}

// Validate checks the identifying fields of a series.
func (s Series) Validate() error {
	if s.IndexID == "" {
		return errors.New("series index ID must not be empty")
	}
	if s.Metric == "" {
		return errors.New("series metric must not be empty")
	}
	return nil
}

// IndexHistory is every stored series for one index, keyed by metric name.
type IndexHistory struct {
	IndexID string            `json:"index_id"`
	Series  map[string]Series `json:"series"`
}

// NewIndexHistory returns an empty history for indexID.
func NewIndexHistory(indexID string) IndexHistory {
	return IndexHistory{IndexID: indexID, Series: make(map[string]Series)}
}

// Get returns the series for metric, or an empty series when none is stored.
func (h IndexHistory) Get(metric string) Series {
	if s, ok := h.Series[metric]; ok {
		return s
	}
	return Series{IndexID: h.IndexID, Metric: metric}
}

// Float returns a pointer to v, for building present points.
func Float(v float64) *float64 {
	return &v
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO-8601 calendar date. Timestamps with a time part
// ("2024-01-02T00:00:00" or "2024-01-02 00:00:00") are accepted and truncated.
func ParseDate(s string) (time.Time, error) {
	if len(s) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Point builds a present point on the given date.
func Point(date time.Time, v float64) TimePoint {
	return TimePoint{Date: Date(date), Value: Float(v)}
}
