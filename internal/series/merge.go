// Package series keeps per-index metric histories date-unique and date-sorted
// as new batches arrive from any source.
package series

import (
	"sort"

	"github.com/rewired-gh/indexwatch/internal/models"
)

// Merge folds incoming into existing and returns a new series.
//
// Absent incoming points are dropped so a failed observation never erases a
// stored one. Within a batch the last occurrence of a date wins, and across
// the two inputs the incoming value wins. The result has unique dates in
// ascending order whatever the state of the inputs; neither input is modified.
func Merge(existing, incoming models.Series) models.Series {
	byDate := make(map[string]models.TimePoint, len(existing.Points)+len(incoming.Points))
	collect := func(points []models.TimePoint) {
		for _, p := range points {
			if !p.Present() {
				continue
			}
			byDate[p.DateKey()] = models.TimePoint{
				Date:  models.Date(p.Date),
				Value: models.Float(*p.Value),
			}
		}
	}
	collect(existing.Points)
	collect(incoming.Points)

	points := make([]models.TimePoint, 0, len(byDate))
	for _, p := range byDate {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	out := models.Series{
		IndexID: existing.IndexID,
		Metric:  existing.Metric,
		Points:  points,
	}
	if out.IndexID == "" {
		out.IndexID = incoming.IndexID
	}
	if out.Metric == "" {
		out.Metric = incoming.Metric
	}
	return out
}

// Changed counts the points of incoming that would add or alter a date in existing.
func Changed(existing, incoming models.Series) int {
	stored := make(map[string]float64, len(existing.Points))
	for _, p := range existing.Points {
		if p.Present() {
			stored[p.DateKey()] = *p.Value
		}
	}
	last := make(map[string]float64, len(incoming.Points))
	for _, p := range incoming.Points {
		if p.Present() {
			last[p.DateKey()] = *p.Value
		}
	}
	n := 0
	for date, v := range last {
		if old, ok := stored[date]; !ok || old != v {
			n++
		}
	}
	return n
}
