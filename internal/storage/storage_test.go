package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rewired-gh/indexwatch/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(3, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testSeries(indexID, metric string, values map[string]float64) models.Series {
	s := models.Series{IndexID: indexID, Metric: metric}
	for date, v := range values {
		s.Points = append(s.Points, models.Point(day(date), v))
	}
	return s
}

func TestStorage_SaveAndLoadSeries(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	in := testSeries("000300", models.MetricPE, map[string]float64{
		"2024-01-03": 12.5,
		"2024-01-01": 12.0,
		"2024-01-02": 12.2,
	})
	if err := s.SaveSeries(ctx, in); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}

	got, err := s.LoadSeries(ctx, "000300", models.MetricPE)
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("got %d points, want 3", got.Len())
	}
	want := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	for i, p := range got.Points {
		if p.DateKey() != want[i] {
			t.Errorf("point %d date = %s, want %s", i, p.DateKey(), want[i])
		}
	}
	if *got.Points[0].Value != 12.0 {
		t.Errorf("first value = %f, want 12.0", *got.Points[0].Value)
	}
}

func TestStorage_LoadSeries_Empty(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.LoadSeries(context.Background(), "missing", models.MetricPE)
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if got.Len() != 0 || got.IndexID != "missing" || got.Metric != models.MetricPE {
		t.Errorf("expected empty identified series, got %+v", got)
	}
}

func TestStorage_SaveSeries_UpsertsByDate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.SaveSeries(ctx, testSeries("HSI", models.MetricPrice, map[string]float64{
		"2024-01-01": 100, "2024-01-02": 101,
	})); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	if err := s.SaveSeries(ctx, testSeries("HSI", models.MetricPrice, map[string]float64{
		"2024-01-02": 105,
	})); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}

	got, _ := s.LoadSeries(ctx, "HSI", models.MetricPrice)
	if got.Len() != 2 {
		t.Fatalf("got %d points, want 2", got.Len())
	}
	if *got.Points[1].Value != 105 {
		t.Errorf("2024-01-02 value = %f, want 105", *got.Points[1].Value)
	}
}

func TestStorage_SaveSeries_ZonedTimestampUsesUTCDate(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	loc := time.FixedZone("UTC+8", 8*3600)
	if err := s.SaveSeries(ctx, testSeries("HSI", models.MetricPrice, map[string]float64{"2024-01-01": 100})); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	zoned := models.Series{IndexID: "HSI", Metric: models.MetricPrice, Points: []models.TimePoint{
		{Date: time.Date(2024, 1, 2, 1, 0, 0, 0, loc), Value: models.Float(102)},
	}}
	if err := s.SaveSeries(ctx, zoned); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}

	got, _ := s.LoadSeries(ctx, "HSI", models.MetricPrice)
	if got.Len() != 1 || *got.Points[0].Value != 102 {
		t.Errorf("got %+v, want single 2024-01-01 point of 102", got.Points)
	}
}

func TestStorage_SaveSeries_SkipsAbsent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	in := models.Series{IndexID: "SPX", Metric: models.MetricPE, Points: []models.TimePoint{
		{Date: day("2024-01-01")},
		models.Point(day("2024-01-02"), 20),
	}}
	if err := s.SaveSeries(ctx, in); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	got, _ := s.LoadSeries(ctx, "SPX", models.MetricPE)
	if got.Len() != 1 {
		t.Errorf("got %d points, want 1", got.Len())
	}
}

func TestStorage_SaveSeries_Invalid(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SaveSeries(context.Background(), models.Series{Metric: models.MetricPE}); err == nil {
		t.Error("expected error for series without index ID")
	}
}

func TestStorage_LoadHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_ = s.SaveSeries(ctx, testSeries("000905", models.MetricPE, map[string]float64{"2024-01-01": 20, "2024-01-02": 21}))
	_ = s.SaveSeries(ctx, testSeries("000905", models.MetricPB, map[string]float64{"2024-01-01": 1.8}))
	_ = s.SaveSeries(ctx, testSeries("000300", models.MetricPE, map[string]float64{"2024-01-01": 12}))

	h, err := s.LoadHistory(ctx, "000905")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(h.Series) != 2 {
		t.Fatalf("got %d metrics, want 2", len(h.Series))
	}
	if h.Get(models.MetricPE).Len() != 2 {
		t.Errorf("pe len = %d, want 2", h.Get(models.MetricPE).Len())
	}
	if h.Get(models.MetricPB).Len() != 1 {
		t.Errorf("pb len = %d, want 1", h.Get(models.MetricPB).Len())
	}

	ids, err := s.ListIndices(ctx)
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	if len(ids) != 2 || ids[0] != "000300" || ids[1] != "000905" {
		t.Errorf("ListIndices = %v, want [000300 000905]", ids)
	}
}

func TestStorage_Runs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	run := &models.RunRecord{ID: "run-1", StartedAt: start, Indices: 4}
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run.FinishedAt = time.Now()
	run.Failed = 1
	run.Points = 42
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Failed != 1 || got.Points != 42 || got.Indices != 4 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.FinishedAt.IsZero() {
		t.Error("finished_at not stored")
	}

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(nope) error = %v, want ErrNotFound", err)
	}
	if err := s.FinishRun(ctx, &models.RunRecord{ID: "nope", FinishedAt: time.Now()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun(nope) error = %v, want ErrNotFound", err)
	}
}

func TestStorage_Snapshots(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i, runID := range []string{"run-a", "run-b"} {
		if err := s.StartRun(ctx, &models.RunRecord{ID: runID, StartedAt: time.Now()}); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		snap := &models.IndicatorSnapshot{
			IndexID:        "000300",
			AsOf:           day("2024-06-28"),
			PrimaryMetric:  models.MetricPE,
			PercentileRank: models.Float(float64(10 * (i + 1))),
			Zone:           models.ZoneUndervalued,
			Metrics: map[string]models.MetricIndicator{
				models.MetricPE: {Current: models.Float(11.8), Percentile: models.Float(float64(10 * (i + 1)))},
				models.MetricPB: {},
			},
		}
		if err := s.SaveSnapshot(ctx, runID, snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	snaps, err := s.LatestSnapshots(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	got := snaps[0]
	if got.PercentileRank == nil || *got.PercentileRank != 20 {
		t.Errorf("percentile = %v, want 20 from latest run", got.PercentileRank)
	}
	if got.Drawdown != nil || got.LatestValue != nil {
		t.Error("absent fields should round-trip as nil")
	}
	if got.Metric(models.MetricPB).Current != nil {
		t.Error("absent metric current should round-trip as nil")
	}
	if got.AsOf.Format(models.DateLayout) != "2024-06-28" {
		t.Errorf("as_of = %s", got.AsOf.Format(models.DateLayout))
	}
}

func TestStorage_RotateRuns(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("run-%d", i)
		if err := s.StartRun(ctx, &models.RunRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		if err := s.SaveSnapshot(ctx, id, &models.IndicatorSnapshot{IndexID: "SPX", AsOf: day("2024-01-01")}); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	if err := s.RotateRuns(ctx); err != nil {
		t.Fatalf("RotateRuns: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.GetRun(ctx, fmt.Sprintf("run-%d", i)); !errors.Is(err, ErrNotFound) {
			t.Errorf("run-%d should have been rotated out", i)
		}
	}
	for i := 2; i < 5; i++ {
		if _, err := s.GetRun(ctx, fmt.Sprintf("run-%d", i)); err != nil {
			t.Errorf("run-%d should be kept: %v", i, err)
		}
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d snapshots after rotation, want 3", n)
	}
}
