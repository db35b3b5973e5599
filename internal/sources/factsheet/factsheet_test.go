package factsheet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/sources"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		pe       *float64
		pb       *float64
		dividend *float64
	}{
		{
			name: "english factsheet",
			lines: []string{
				"Hang Seng Index",
				"Index Fundamentals",
				"P/E Ratio (Times) 9.87",
				"P/B Ratio: 1.02",
				"Dividend Yield (%) 4.12",
			},
			pe:       models.Float(9.87),
			pb:       models.Float(1.02),
			dividend: percent(4.12),
		},
		{
			name: "chinese labels and full width colon",
			lines: []string{
				"市盈率：10.5",
				"股息率：3.5%",
			},
			pe:       models.Float(10.5),
			dividend: percent(3.5),
		},
		{
			name: "first numeric line wins",
			lines: []string{
				"P/E",
				"P/E 11",
				"P/E 12",
			},
			pe: models.Float(11),
		},
		{
			name:  "nothing found",
			lines: []string{"Constituents 82", "Base Date 31/07/1964"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.lines)
			assertFloat(t, "pe", got.PE, tt.pe)
			assertFloat(t, "pb", got.PB, tt.pb)
			assertFloat(t, "dividend", got.DividendYield, tt.dividend)
		})
	}
}

func percent(v float64) *float64 {
	v /= 100
	return &v
}

func assertFloat(t *testing.T, name string, got, want *float64) {
	t.Helper()
	switch {
	case got == nil && want == nil:
	case got == nil || want == nil:
		t.Errorf("%s = %v, want %v", name, got, want)
	case *got != *want:
		t.Errorf("%s = %v, want %v", name, *got, *want)
	}
}

func TestBatches(t *testing.T) {
	f := Figures{PE: models.Float(9.5)}
	batches := f.Batches("HSI", time.Date(2024, 5, 17, 15, 0, 0, 0, time.UTC))
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, b := range batches {
		if b.IndexID != "HSI" || len(b.Points) != 1 || !b.Points[0].Date.Equal(first) {
			t.Errorf("unexpected batch %+v", b)
		}
		if b.Metric == models.MetricPE {
			if !b.Points[0].Present() {
				t.Error("pe should be present")
			}
		} else if b.Points[0].Present() {
			t.Errorf("%s should be absent", b.Metric)
		}
	}
}

func TestBatchesUseUTCMonth(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 2024-06-01 05:00 +08:00 is still May 31 in UTC
	batches := Figures{PE: models.Float(9.5)}.Batches("HSI", time.Date(2024, 6, 1, 5, 0, 0, 0, loc))
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := batches[0].Points[0].Date; !got.Equal(want) {
		t.Errorf("date = %v, want %v", got, want)
	}
}

func TestExtractLinesRejectsNonPDF(t *testing.T) {
	if _, err := ExtractLines([]byte("plain text, not a pdf")); err == nil {
		t.Error("expected error for non-PDF input")
	}
}

func TestFetchPropagatesDownloadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	base := sources.NewClient(5*time.Second, sources.ClientConfig{MaxRetries: 1, RequestsPerSecond: 10})
	if _, err := NewClient(base).Fetch(context.Background(), "HSI", srv.URL, time.Now()); err == nil {
		t.Error("expected error")
	}
}
