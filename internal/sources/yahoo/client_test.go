package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/sources"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTrailingYield(t *testing.T) {
	closes := []models.TimePoint{
		models.Point(day(2024, 1, 3), 200),
		models.Point(day(2023, 1, 2), 100),
		models.Point(day(2023, 6, 1), 100),
		{Date: day(2023, 7, 1)},
		models.Point(day(2023, 8, 1), 0),
		models.Point(day(2025, 1, 10), 100),
	}
	dividends := []Dividend{
		{Date: day(2023, 3, 15), Amount: 1},
		{Date: day(2023, 12, 20), Amount: 2},
	}

	got := TrailingYield(closes, dividends)
	want := []struct {
		date  time.Time
		value float64
	}{
		{day(2023, 1, 2), 0},
		{day(2023, 6, 1), 0.01},
		{day(2024, 1, 3), 0.015},
		{day(2025, 1, 10), 0},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d points, want %d: %v", len(got), len(want), got)
	}
	for i, w := range want {
		if !got[i].Date.Equal(w.date) {
			t.Errorf("point %d date = %s, want %s", i, got[i].DateKey(), w.date.Format(models.DateLayout))
		}
		if got[i].Value == nil || *got[i].Value != w.value {
			t.Errorf("point %d value = %v, want %v", i, got[i].Value, w.value)
		}
	}
}

func TestTrailingYieldEmpty(t *testing.T) {
	if got := TrailingYield(nil, []Dividend{{Date: day(2023, 1, 1), Amount: 1}}); len(got) != 0 {
		t.Errorf("expected no points, got %v", got)
	}
}

// 1704292200 is 2024-01-03T14:30:00Z, 1704378600 one day later.
const goodChart = `{"chart":{"result":[{
  "meta":{"symbol":"GOOD","gmtoffset":-18000},
  "timestamp":[1704292200,1704378600],
  "indicators":{"quote":[{"close":[4704.8,null]}]},
  "events":{"dividends":{"1704292200":{"amount":1.5,"date":1704292200}}}
}],"error":null}}`

const emptyChart = `{"chart":{"result":[{
  "meta":{"symbol":"EMPTY","gmtoffset":0},
  "timestamp":[1704292200],
  "indicators":{"quote":[{"close":[null]}]}
}],"error":null}}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "1d" || r.URL.Query().Get("events") != "div" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		switch strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/") {
		case "GOOD":
			_, _ = w.Write([]byte(goodChart))
		case "EMPTY":
			_, _ = w.Write([]byte(emptyChart))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	base := sources.NewClient(5*time.Second, sources.ClientConfig{MaxRetries: 1, RequestsPerSecond: 100})
	return NewClient(url+"/", base)
}

func TestFetchChart(t *testing.T) {
	c := newTestClient(newTestServer(t).URL)
	chart, err := c.FetchChart(context.Background(), "GOOD", day(2024, 1, 1), day(2024, 1, 5))
	if err != nil {
		t.Fatalf("FetchChart: %v", err)
	}
	if len(chart.Closes) != 2 {
		t.Fatalf("got %d closes, want 2", len(chart.Closes))
	}
	if !chart.Closes[0].Date.Equal(day(2024, 1, 3)) || *chart.Closes[0].Value != 4704.8 {
		t.Errorf("unexpected first close %v", chart.Closes[0])
	}
	if chart.Closes[1].Present() {
		t.Error("null close should be absent")
	}
	if len(chart.Dividends) != 1 || chart.Dividends[0].Amount != 1.5 || !chart.Dividends[0].Date.Equal(day(2024, 1, 3)) {
		t.Errorf("unexpected dividends %v", chart.Dividends)
	}
}

func TestFetchPriceFallsBackAcrossCandidates(t *testing.T) {
	c := newTestClient(newTestServer(t).URL)
	s, symbol, err := c.FetchPrice(context.Background(), "SPX", []string{"MISSING", "EMPTY", "GOOD"}, day(2024, 1, 1), day(2024, 1, 5))
	if err != nil {
		t.Fatalf("FetchPrice: %v", err)
	}
	if symbol != "GOOD" {
		t.Errorf("served by %s, want GOOD", symbol)
	}
	if s.IndexID != "SPX" || s.Metric != models.MetricPrice || len(s.Points) != 2 {
		t.Errorf("unexpected series %+v", s)
	}
}

func TestFetchPriceNoCandidateWorks(t *testing.T) {
	c := newTestClient(newTestServer(t).URL)
	if _, _, err := c.FetchPrice(context.Background(), "SPX", []string{"MISSING"}, day(2024, 1, 1), day(2024, 1, 5)); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := c.FetchPrice(context.Background(), "SPX", nil, day(2024, 1, 1), day(2024, 1, 5)); err != ErrNoData {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestFetchDividendYield(t *testing.T) {
	c := newTestClient(newTestServer(t).URL)
	s, _, err := c.FetchDividendYield(context.Background(), "SPX", []string{"GOOD"}, day(2024, 1, 1), day(2024, 1, 5))
	if err != nil {
		t.Fatalf("FetchDividendYield: %v", err)
	}
	if s.Metric != models.MetricDividendYield || len(s.Points) != 1 {
		t.Fatalf("unexpected series %+v", s)
	}
	amount, closePrice := 1.5, 4704.8
	if want := amount / closePrice; *s.Points[0].Value != want {
		t.Errorf("yield = %v, want %v", *s.Points[0].Value, want)
	}
}
