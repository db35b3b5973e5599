// Package pipeline fetches upstream data for every tracked index, merges it
// into the series store and computes indicator snapshots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/indexwatch/internal/config"
	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/metrics"
	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/series"
	"github.com/rewired-gh/indexwatch/internal/sources/danjuan"
)

// ErrAllFailed is returned when no index could be processed in a run.
var ErrAllFailed = errors.New("every index failed")

// ValuationFeed provides the multi-index valuation table.
type ValuationFeed interface {
	Fetch(ctx context.Context) (danjuan.Feed, error)
}

// PriceSource provides daily closes and dividend yields by symbol.
type PriceSource interface {
	FetchPrice(ctx context.Context, indexID string, candidates []string, from, to time.Time) (models.Series, string, error)
	FetchDividendYield(ctx context.Context, indexID string, candidates []string, from, to time.Time) (models.Series, string, error)
}

// FactsheetSource provides monthly headline figures from a published document.
type FactsheetSource interface {
	Fetch(ctx context.Context, indexID, url string, asOf time.Time) ([]models.Series, error)
}

// Sources groups the upstream collaborators. Nil members are skipped.
type Sources struct {
	Valuations ValuationFeed
	Prices     PriceSource
	Factsheets FactsheetSource
}

// RunStore records runs and the snapshots they produce.
type RunStore interface {
	StartRun(ctx context.Context, run *models.RunRecord) error
	FinishRun(ctx context.Context, run *models.RunRecord) error
	SaveSnapshot(ctx context.Context, runID string, snap *models.IndicatorSnapshot) error
	RotateRuns(ctx context.Context) error
}

// Observer is notified of run outcomes.
type Observer interface {
	ObserveSnapshot(snap models.IndicatorSnapshot, merged int)
	ObserveFailure(indexID string)
	ObserveRun(run models.RunRecord)
}

// Config holds pipeline settings
type Config struct {
	HistoryYears int
	Concurrency  int
}

// Result is the outcome of one pass.
type Result struct {
	Run       models.RunRecord
	Snapshots []models.IndicatorSnapshot // configured index order
	Failures  map[string]error
}

// Runner drives fetch, merge and compute for the configured indices.
type Runner struct {
	indices  []config.IndexEntry
	sources  Sources
	store    *series.Store
	runs     RunStore
	engine   *metrics.Engine
	config   Config
	observer Observer
	now      func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithObserver sets the run observer
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a new Runner
func New(indices []config.IndexEntry, src Sources, store *series.Store, runs RunStore, engine *metrics.Engine, cfg Config, opts ...Option) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	r := &Runner{
		indices: indices,
		sources: src,
		store:   store,
		runs:    runs,
		engine:  engine,
		config:  cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches every index, merges the batches and computes snapshots.
// A failing index is recorded and does not stop the others.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	return r.execute(ctx, true)
}

// Compute recomputes snapshots from stored history without fetching.
func (r *Runner) Compute(ctx context.Context) (*Result, error) {
	return r.execute(ctx, false)
}

// Import merges externally read batches into the store and returns the
// number of dates added or changed.
func (r *Runner) Import(ctx context.Context, batches []models.Series) (int, error) {
	total := 0
	for _, b := range batches {
		_, changed, err := r.store.Apply(ctx, b)
		if err != nil {
			return total, err
		}
		total += changed
	}
	logger.Info("Imported %d batches (%d points changed)", len(batches), total)
	return total, nil
}

func (r *Runner) execute(ctx context.Context, fetch bool) (*Result, error) {
	start := r.now()
	result := &Result{
		Run: models.RunRecord{
			ID:        uuid.NewString(),
			StartedAt: start,
			Indices:   len(r.indices),
		},
		Failures: make(map[string]error),
	}
	log := logger.With("run", result.Run.ID)
	log.Infof("Starting run over %d indices (fetch: %v)", len(r.indices), fetch)

	if err := r.runs.StartRun(ctx, &result.Run); err != nil {
		return nil, err
	}

	var feed danjuan.Feed
	if fetch {
		feed = r.fetchFeed(ctx)
	}

	snaps := make([]*models.IndicatorSnapshot, len(r.indices))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for i := range r.indices {
		entry := r.indices[i]
		g.Go(func() error {
			snap, merged, err := r.processIndex(ctx, result.Run.ID, entry, feed, fetch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnf("Index %s failed: %v", entry.Code, err)
				result.Failures[entry.Code] = err
				if r.observer != nil {
					r.observer.ObserveFailure(entry.Code)
				}
				return nil
			}
			snaps[i] = &snap
			result.Run.Points += merged
			if r.observer != nil {
				r.observer.ObserveSnapshot(snap, merged)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range snaps {
		if s != nil {
			result.Snapshots = append(result.Snapshots, *s)
		}
	}
	result.Run.Failed = len(result.Failures)
	result.Run.FinishedAt = r.now()

	if err := r.runs.FinishRun(context.WithoutCancel(ctx), &result.Run); err != nil {
		return result, err
	}
	if err := r.runs.RotateRuns(context.WithoutCancel(ctx)); err != nil {
		log.Warnf("Failed to rotate runs: %v", err)
	}
	if r.observer != nil {
		r.observer.ObserveRun(result.Run)
	}

	log.Infof("Run completed in %v: %d ok, %d failed, %d points merged",
		result.Run.FinishedAt.Sub(start), len(result.Snapshots), result.Run.Failed, result.Run.Points)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.Run.Indices > 0 && result.Run.Failed == result.Run.Indices {
		return result, fmt.Errorf("%w (%d indices)", ErrAllFailed, result.Run.Failed)
	}
	return result, nil
}

func (r *Runner) fetchFeed(ctx context.Context) danjuan.Feed {
	if r.sources.Valuations == nil {
		return nil
	}
	needed := false
	for _, e := range r.indices {
		if e.DjevaCode != "" {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	feed, err := r.sources.Valuations.Fetch(ctx)
	if err != nil {
		logger.Warn("Valuation feed unavailable, continuing without it: %v", err)
		return nil
	}
	logger.Debug("Valuation feed returned %d index codes", len(feed))
	return feed
}

// processIndex merges fresh batches for one index, then computes and stores its snapshot.
func (r *Runner) processIndex(ctx context.Context, runID string, entry config.IndexEntry, feed danjuan.Feed, fetch bool) (models.IndicatorSnapshot, int, error) {
	merged := 0
	if fetch {
		batches, err := r.collect(ctx, entry, feed)
		if err != nil {
			return models.IndicatorSnapshot{}, 0, err
		}
		for _, b := range batches {
			_, changed, err := r.store.Apply(ctx, b)
			if err != nil {
				return models.IndicatorSnapshot{}, 0, err
			}
			merged += changed
		}
	}

	h, err := r.store.History(ctx, entry.Code)
	if err != nil {
		return models.IndicatorSnapshot{}, 0, err
	}
	snap := r.engine.ComputeHistory(h)
	snap.IndexID = entry.Code

	if err := r.runs.SaveSnapshot(ctx, runID, &snap); err != nil {
		return models.IndicatorSnapshot{}, 0, err
	}
	return snap, merged, nil
}

// collect gathers batches from every source that applies to the index's class.
// It fails only when no source produced anything and at least one errored.
func (r *Runner) collect(ctx context.Context, entry config.IndexEntry, feed danjuan.Feed) ([]models.Series, error) {
	now := r.now()
	from := now.AddDate(-r.config.HistoryYears, 0, 0)

	var batches []models.Series
	var errs []error

	if entry.DjevaCode != "" && feed != nil {
		b := feed.Batches(entry.Code, entry.DjevaCode)
		if b == nil {
			logger.Debug("Valuation feed has no rows for %s (%s)", entry.Code, entry.DjevaCode)
		}
		batches = append(batches, b...)
	}

	if entry.Class == config.ClassHK && entry.FactsheetURL != "" && r.sources.Factsheets != nil {
		b, err := r.sources.Factsheets.Fetch(ctx, entry.Code, entry.FactsheetURL, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("factsheet: %w", err))
		} else {
			batches = append(batches, b...)
		}
	}

	if r.sources.Prices != nil {
		if candidates := entry.PriceCandidates(); len(candidates) > 0 {
			s, symbol, err := r.sources.Prices.FetchPrice(ctx, entry.Code, candidates, from, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("price: %w", err))
			} else {
				logger.Debug("Price for %s served by %s (%d rows)", entry.Code, symbol, s.Len())
				batches = append(batches, s)
			}
		}

		if entry.Class == config.ClassUS {
			if candidates := entry.DividendCandidates(); len(candidates) > 0 {
				s, symbol, err := r.sources.Prices.FetchDividendYield(ctx, entry.Code, candidates, from, now)
				if err != nil {
					errs = append(errs, fmt.Errorf("dividend yield: %w", err))
				} else {
					logger.Debug("Dividend yield for %s served by %s (%d rows)", entry.Code, symbol, s.Len())
					batches = append(batches, s)
				}
			}
		}
	}

	if len(batches) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn("Index %s partial failure: %v", entry.Code, err)
	}
	return batches, nil
}
