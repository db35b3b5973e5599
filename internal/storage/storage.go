// Package storage provides SQLite-backed persistence for index series, snapshots and runs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/indexwatch/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/indexwatch/data.db; ":memory:" opens a private in-memory database.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "indexwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxRuns: maxRuns}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS series_points (
			index_id        TEXT NOT NULL,
			metric          TEXT NOT NULL,
			date            TEXT NOT NULL,
			value           REAL NOT NULL,
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (index_id, metric, date)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			started_at      INTEGER NOT NULL,
			finished_at     INTEGER,
			indices         INTEGER NOT NULL DEFAULT 0,
			failed          INTEGER NOT NULL DEFAULT 0,
			points          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			index_id        TEXT NOT NULL,
			as_of           TEXT NOT NULL,
			primary_metric  TEXT,
			percentile_rank REAL,
			drawdown        REAL,
			latest_value    REAL,
			zone            TEXT,
			metrics         TEXT NOT NULL DEFAULT '{}',
			created_at      INTEGER NOT NULL,
			PRIMARY KEY (run_id, index_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_index ON snapshots(index_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadSeries returns the stored points of one metric in ascending date order.
// A series that was never written comes back empty, not as an error.
func (s *Storage) LoadSeries(ctx context.Context, indexID, metric string) (models.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, value FROM series_points
		WHERE index_id = ? AND metric = ?
		ORDER BY date ASC`, indexID, metric)
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	out := models.Series{IndexID: indexID, Metric: metric}
	for rows.Next() {
		p, err := scanPoint(rows.Scan)
		if err != nil {
			return models.Series{}, fmt.Errorf("failed to scan point: %w", err)
		}
		out.Points = append(out.Points, p)
	}
	return out, rows.Err()
}

// SaveSeries upserts every present point of s. Stored dates missing from s are kept.
func (s *Storage) SaveSeries(ctx context.Context, series models.Series) error {
	if err := series.Validate(); err != nil {
		return fmt.Errorf("invalid series: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO series_points (index_id, metric, date, value, updated_at)
		VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, p := range series.Points {
		if !p.Present() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, series.IndexID, series.Metric, p.DateKey(), *p.Value, now); err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", p.DateKey(), err)
		}
	}
	return tx.Commit()
}

// LoadHistory returns every stored metric of an index.
func (s *Storage) LoadHistory(ctx context.Context, indexID string) (models.IndexHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, date, value FROM series_points
		WHERE index_id = ?
		ORDER BY metric ASC, date ASC`, indexID)
	if err != nil {
		return models.IndexHistory{}, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	h := models.NewIndexHistory(indexID)
	for rows.Next() {
		var metric string
		p, err := scanPoint(func(dest ...any) error {
			return rows.Scan(append([]any{&metric}, dest...)...)
		})
		if err != nil {
			return models.IndexHistory{}, fmt.Errorf("failed to scan point: %w", err)
		}
		ser := h.Get(metric)
		ser.Points = append(ser.Points, p)
		h.Series[metric] = ser
	}
	return h, rows.Err()
}

// ListIndices returns the IDs of every index with stored points.
func (s *Storage) ListIndices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT index_id FROM series_points ORDER BY index_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query indices: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StartRun records the beginning of a pipeline pass.
func (s *Storage) StartRun(ctx context.Context, run *models.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, indices) VALUES (?,?,?)`,
		run.ID, run.StartedAt.UnixNano(), run.Indices,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a pipeline pass.
func (s *Storage) FinishRun(ctx context.Context, run *models.RunRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at=?, indices=?, failed=?, points=? WHERE id=?`,
		run.FinishedAt.UnixNano(), run.Indices, run.Failed, run.Points, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun returns one run by ID.
func (s *Storage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var r models.RunRecord
	var started int64
	var finished sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, indices, failed, points FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &started, &finished, &r.Indices, &r.Failed, &r.Points)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return &r, nil
}

// SaveSnapshot stores the snapshot computed for an index during a run.
func (s *Storage) SaveSnapshot(ctx context.Context, runID string, snap *models.IndicatorSnapshot) error {
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots
			(run_id, index_id, as_of, primary_metric, percentile_rank, drawdown,
			 latest_value, zone, metrics, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		runID, snap.IndexID, snap.AsOf.Format(models.DateLayout), snap.PrimaryMetric,
		nullFloat(snap.PercentileRank), nullFloat(snap.Drawdown), nullFloat(snap.LatestValue),
		snap.Zone, string(metricsJSON), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshots returns the most recent snapshot of every index, ordered by index ID.
func (s *Storage) LatestSnapshots(ctx context.Context) ([]models.IndicatorSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotCols+` FROM snapshots s
		WHERE created_at = (SELECT MAX(created_at) FROM snapshots WHERE index_id = s.index_id)
		ORDER BY index_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []models.IndicatorSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// RotateRuns keeps at most maxRuns newest runs by start time.
// Cascading deletes remove their snapshots; series points are never touched.
func (s *Storage) RotateRuns(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, s.maxRuns)
	if err != nil {
		return fmt.Errorf("failed to rotate runs: %w", err)
	}
	return nil
}

const snapshotCols = `index_id, as_of, primary_metric, percentile_rank, drawdown,
	latest_value, zone, metrics`

func scanSnapshot(scan func(...any) error) (*models.IndicatorSnapshot, error) {
	var snap models.IndicatorSnapshot
	var asOf, metricsJSON string
	var primary, zone sql.NullString
	var pct, dd, latest sql.NullFloat64
	err := scan(&snap.IndexID, &asOf, &primary, &pct, &dd, &latest, &zone, &metricsJSON)
	if err != nil {
		return nil, err
	}
	if snap.AsOf, err = models.ParseDate(asOf); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metricsJSON), &snap.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	snap.PrimaryMetric = primary.String
	snap.Zone = zone.String
	snap.PercentileRank = fromNull(pct)
	snap.Drawdown = fromNull(dd)
	snap.LatestValue = fromNull(latest)
	return &snap, nil
}

func scanPoint(scan func(...any) error) (models.TimePoint, error) {
	var date string
	var value float64
	if err := scan(&date, &value); err != nil {
		return models.TimePoint{}, err
	}
	d, err := models.ParseDate(date)
	if err != nil {
		return models.TimePoint{}, err
	}
	return models.TimePoint{Date: d, Value: models.Float(value)}, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}
