package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/indexwatch/internal/config"
	"github.com/rewired-gh/indexwatch/internal/export"
	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/metrics"
	"github.com/rewired-gh/indexwatch/internal/pipeline"
	"github.com/rewired-gh/indexwatch/internal/series"
	"github.com/rewired-gh/indexwatch/internal/sources"
	"github.com/rewired-gh/indexwatch/internal/sources/danjuan"
	"github.com/rewired-gh/indexwatch/internal/sources/factsheet"
	"github.com/rewired-gh/indexwatch/internal/sources/yahoo"
	"github.com/rewired-gh/indexwatch/internal/storage"
	"github.com/rewired-gh/indexwatch/internal/telegram"
	"github.com/rewired-gh/indexwatch/internal/telemetry"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	indices  []config.IndexEntry
	store    *storage.Storage
	runner   *pipeline.Runner
	recorder *telemetry.Recorder
	telegram *telegram.Client
}

func newApp(cfg *config.Config) (*app, error) {
	indices, err := config.LoadIndices(cfg.IndicesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Tracking %d indices from %s", len(indices), cfg.IndicesFile)

	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	base := sources.NewClient(cfg.Sources.Timeout, sources.ClientConfig{
		MaxRetries:        cfg.Sources.MaxRetries,
		RetryDelayBase:    cfg.Sources.RetryDelayBase,
		RequestsPerSecond: cfg.Sources.RequestsPerSecond,
	})
	src := pipeline.Sources{
		Valuations: danjuan.NewClient(cfg.Sources.DanjuanURL, base),
		Prices:     yahoo.NewClient(cfg.Sources.YahooURL, base),
		Factsheets: factsheet.NewClient(base),
	}

	engine := metrics.New(metrics.Config{
		WindowYears:    cfg.Metrics.WindowYears,
		PrimaryMetrics: cfg.Metrics.PrimaryMetrics,
		CheapBelow:     cfg.Metrics.CheapBelow,
		ExpensiveAbove: cfg.Metrics.ExpensiveAbove,
	})

	recorder := telemetry.NewRecorder()
	runner := pipeline.New(indices, src, series.NewStore(store), store, engine,
		pipeline.Config{
			HistoryYears: cfg.Sources.HistoryYears,
			Concurrency:  cfg.Sources.Concurrency,
		},
		pipeline.WithObserver(recorder),
	)

	a := &app{
		cfg:      cfg,
		indices:  indices,
		store:    store,
		runner:   runner,
		recorder: recorder,
	}

	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			store.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		names := make(map[string]string, len(indices))
		for _, e := range indices {
			names[e.Code] = e.Name
		}
		a.telegram.SetIndexNames(names)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

// publish writes the dashboard exports and the metrics textfile for a result.
// Rows come from the latest stored snapshots so an index that failed this run
// keeps its previous figures.
func (a *app) publish(ctx context.Context, res *pipeline.Result) {
	if res == nil {
		return
	}
	snaps, err := a.store.LatestSnapshots(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("Falling back to run snapshots for export: %v", err)
		snaps = res.Snapshots
	}
	rows := export.BuildRows(a.indices, snaps)

	if path := a.cfg.Export.CSVPath; path != "" {
		if err := export.WriteCSVFile(path, rows); err != nil {
			logger.Error("Failed to write CSV export: %v", err)
		} else {
			logger.Info("Dashboard CSV written to %s (%d rows)", path, len(rows))
		}
	}
	if path := a.cfg.Export.XLSXPath; path != "" {
		if err := export.WriteXLSXFile(path, rows); err != nil {
			logger.Error("Failed to write XLSX export: %v", err)
		} else {
			logger.Info("Dashboard workbook written to %s", path)
		}
	}
	if path := a.cfg.Telemetry.TextfilePath; path != "" {
		if err := a.recorder.WriteTextfile(path); err != nil {
			logger.Warn("%v", err)
		}
	}
}

// notify sends the run digest when Telegram is enabled.
func (a *app) notify(res *pipeline.Result) {
	if a.telegram == nil || res == nil || len(res.Snapshots) == 0 {
		return
	}
	if err := a.telegram.SendDigest(res.Snapshots, res.Failures); err != nil {
		logger.Error("Failed to send Telegram digest: %v", err)
		return
	}
	logger.Info("Sent Telegram digest with %d indices", len(res.Snapshots))
}
