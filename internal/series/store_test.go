package series

import (
	"context"
	"errors"
	"testing"

	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.New(10, ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStore_ApplyPersistsMergedSeries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, n, err := s.Apply(ctx, ser(pt("2024-01-02", 11), pt("2024-01-01", 10)))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 2 || first.Len() != 2 {
		t.Fatalf("first apply: changed=%d len=%d, want 2/2", n, first.Len())
	}

	second, n, err := s.Apply(ctx, ser(pt("2024-01-02", 12), absent("2024-01-01"), pt("2024-01-03", 13)))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 2 {
		t.Errorf("second apply changed=%d, want 2", n)
	}
	want := []string{"2024-01-01=10", "2024-01-02=12", "2024-01-03=13"}
	if got := flatten(second); len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("merged = %v, want %v", got, want)
	}

	loaded, err := s.Load(ctx, "000300", models.MetricPE)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := flatten(loaded); len(got) != 3 || got[1] != want[1] {
		t.Errorf("loaded = %v, want %v", got, want)
	}
}

func TestStore_ApplyTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	batch := ser(pt("2024-01-01", 10), pt("2024-01-02", 11))

	if _, _, err := s.Apply(ctx, batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	again, n, err := s.Apply(ctx, batch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 0 || again.Len() != 2 {
		t.Errorf("re-apply changed=%d len=%d, want 0/2", n, again.Len())
	}
}

func TestStore_ApplyRejectsUnidentifiedBatch(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Apply(context.Background(), models.Series{Metric: models.MetricPE}); err == nil {
		t.Error("expected error for batch without index ID")
	}
}

func TestStore_History(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	price := models.Series{IndexID: "000300", Metric: models.MetricPrice, Points: []models.TimePoint{pt("2024-01-01", 3500)}}
	if _, _, err := s.Apply(ctx, price); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, _, err := s.Apply(ctx, ser(pt("2024-01-01", 12))); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	h, err := s.History(ctx, "000300")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h.Series) != 2 {
		t.Errorf("got %d metrics, want 2", len(h.Series))
	}
}

type failingBackend struct{ err error }

func (f failingBackend) LoadSeries(context.Context, string, string) (models.Series, error) {
	return models.Series{}, f.err
}
func (f failingBackend) SaveSeries(context.Context, models.Series) error { return f.err }
func (f failingBackend) LoadHistory(context.Context, string) (models.IndexHistory, error) {
	return models.IndexHistory{}, f.err
}

func TestStore_BackendErrorsAreWrapped(t *testing.T) {
	boom := errors.New("disk full")
	s := NewStore(failingBackend{err: boom})

	if _, _, err := s.Apply(context.Background(), ser(pt("2024-01-01", 1))); !errors.Is(err, boom) {
		t.Errorf("Apply error = %v, want wrapped %v", err, boom)
	}
	if _, err := s.History(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("History error = %v, want wrapped %v", err, boom)
	}
}
