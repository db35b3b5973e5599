package metrics

import (
	"sort"
	"time"

	"github.com/rewired-gh/indexwatch/internal/models"
)

// present returns the present points of s sorted ascending by date.
// The input is never modified.
func present(s models.Series) []models.TimePoint {
	out := make([]models.TimePoint, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Present() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// yearsBefore steps back whole calendar years, clamping Feb 29 to Feb 28.
func yearsBefore(t time.Time, years int) time.Time {
	y, m, d := t.Date()
	y -= years
	if last := daysIn(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Window returns the present values of s dated on or after the latest date
// minus years, oldest first. When nothing falls inside the window the whole
// present history is returned; only a series without any present point yields nil.
func Window(s models.Series, years int) []float64 {
	points := present(s)
	if len(points) == 0 {
		return nil
	}

	all := make([]float64, len(points))
	for i, p := range points {
		all[i] = *p.Value
	}
	if years <= 0 {
		return all
	}

	cutoff := yearsBefore(models.Date(points[len(points)-1].Date), years)
	first := sort.Search(len(points), func(i int) bool {
		return !models.Date(points[i].Date).Before(cutoff)
	})
	if first >= len(points) {
		return all
	}
	return all[first:]
}
