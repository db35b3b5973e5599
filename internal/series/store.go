package series

import (
	"context"
	"fmt"

	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/models"
)

// Backend is the durable table behind a Store.
type Backend interface {
	LoadSeries(ctx context.Context, indexID, metric string) (models.Series, error)
	SaveSeries(ctx context.Context, s models.Series) error
	LoadHistory(ctx context.Context, indexID string) (models.IndexHistory, error)
}

// Store owns one durable series per (index, metric) pair.
type Store struct {
	backend Backend
}

// NewStore wraps backend. Each Store is independent of any other.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Load returns the stored series, empty when nothing has been merged yet.
func (s *Store) Load(ctx context.Context, indexID, metric string) (models.Series, error) {
	existing, err := s.backend.LoadSeries(ctx, indexID, metric)
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to load %s/%s: %w", indexID, metric, err)
	}
	return existing, nil
}

// Apply merges incoming into the stored series for its index and metric,
// persists the result and returns it along with the number of dates added or changed.
func (s *Store) Apply(ctx context.Context, incoming models.Series) (models.Series, int, error) {
	if err := incoming.Validate(); err != nil {
		return models.Series{}, 0, fmt.Errorf("invalid batch: %w", err)
	}

	existing, err := s.Load(ctx, incoming.IndexID, incoming.Metric)
	if err != nil {
		return models.Series{}, 0, err
	}

	changed := Changed(existing, incoming)
	merged := Merge(existing, incoming)
	if changed == 0 {
		logger.Debug("No new points for %s/%s (%d stored)", incoming.IndexID, incoming.Metric, merged.Len())
		return merged, 0, nil
	}

	if err := s.backend.SaveSeries(ctx, merged); err != nil {
		return models.Series{}, 0, fmt.Errorf("failed to save %s/%s: %w", incoming.IndexID, incoming.Metric, err)
	}
	logger.Debug("Merged %d points into %s/%s (%d stored)", changed, incoming.IndexID, incoming.Metric, merged.Len())
	return merged, changed, nil
}

// History returns every stored series of an index.
func (s *Store) History(ctx context.Context, indexID string) (models.IndexHistory, error) {
	h, err := s.backend.LoadHistory(ctx, indexID)
	if err != nil {
		return models.IndexHistory{}, fmt.Errorf("failed to load history for %s: %w", indexID, err)
	}
	return h, nil
}
