// Package history reads previously collected CSV files so they can be merged
// into the series store as a one-off bootstrap.
package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/indexwatch/internal/config"
	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/models"
)

// ErrUnknownLayout is returned for CSV files that match no supported layout.
var ErrUnknownLayout = errors.New("unrecognised CSV layout")

// columnMetrics maps CSV headers to metric names.
var columnMetrics = map[string]string{
	"close":          models.MetricPrice,
	"price":          models.MetricPrice,
	"pe":             models.MetricPE,
	"pb":             models.MetricPB,
	"dividend_yield": models.MetricDividendYield,
	"yeild":          models.MetricDividendYield,
	"roe":            models.MetricROE,
	"bond_yield":     models.MetricBondYield,
	"bond_yeild":     models.MetricBondYield,
}

// Importer turns CSV files into series batches for configured indices.
type Importer struct {
	byDjeva map[string]string
	known   map[string]bool
}

// NewImporter creates an importer for the given indices.
func NewImporter(indices []config.IndexEntry) *Importer {
	im := &Importer{
		byDjeva: make(map[string]string),
		known:   make(map[string]bool),
	}
	for _, e := range indices {
		im.known[e.Code] = true
		if e.DjevaCode != "" {
			im.byDjeva[strings.ToUpper(e.DjevaCode)] = e.Code
		}
	}
	return im
}

// ReadPaths reads every CSV file named by paths; directories are expanded to
// the *.csv files they contain, in name order. Files in an unrecognised layout
// are skipped with a warning.
func (im *Importer) ReadPaths(paths []string) ([]models.Series, error) {
	var out []models.Series
	for _, p := range paths {
		files, err := expand(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			batches, err := im.ReadFile(f)
			if errors.Is(err, ErrUnknownLayout) {
				logger.Warn("Skipping %s: %v", f, err)
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, batches...)
		}
	}
	return out, nil
}

// ReadFile reads one CSV file. Files with an index_code column are read as a
// valuation feed export; otherwise the file name must be <code>_<kind>.csv for
// a configured index code.
func (im *Importer) ReadFile(path string) ([]models.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	indexID := ""
	if i := strings.LastIndex(name, "_"); i > 0 {
		indexID = name[:i]
	}

	batches, err := im.Read(f, indexID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return batches, nil
}

// Read parses CSV from r. indexID is used for single-index layouts.
func (im *Importer) Read(r io.Reader, indexID string) ([]models.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	_, hasCode := cols["index_code"]
	_, hasTS := cols["ts"]
	_, hasDate := cols["date"]
	switch {
	case hasCode && (hasTS || hasDate):
		return im.readFeed(cols, records), nil
	case hasDate && im.known[indexID]:
		return readSingle(cols, records, indexID), nil
	default:
		return nil, ErrUnknownLayout
	}
}

// readFeed reads multi-index rows keyed by feed code.
func (im *Importer) readFeed(cols map[string]int, records [][]string) []models.Series {
	grouped := make(map[string][][]string)
	for _, rec := range records {
		code := strings.ToUpper(field(rec, cols, "index_code"))
		indexID, ok := im.byDjeva[code]
		if !ok {
			continue
		}
		grouped[indexID] = append(grouped[indexID], rec)
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []models.Series
	for _, id := range ids {
		out = append(out, readSingle(cols, grouped[id], id)...)
	}
	return out
}

// readSingle reads rows of one index into one batch per recognised metric column.
// When two columns map to the same metric the leftmost one is used.
func readSingle(cols map[string]int, records [][]string, indexID string) []models.Series {
	type column struct {
		name   string
		series *models.Series
	}
	var columns []column
	taken := make(map[string]bool)
	for _, name := range sortedColumns(cols) {
		metric, ok := columnMetrics[name]
		if !ok || taken[metric] {
			continue
		}
		taken[metric] = true
		columns = append(columns, column{name: name, series: &models.Series{IndexID: indexID, Metric: metric}})
	}

	for line, rec := range records {
		date, err := rowDate(rec, cols)
		if err != nil {
			logger.Warn("Dropping %s row %d: %v", indexID, line+2, err)
			continue
		}
		for _, c := range columns {
			c.series.Points = append(c.series.Points, models.TimePoint{
				Date:  date,
				Value: parseValue(field(rec, cols, c.name)),
			})
		}
	}

	out := make([]models.Series, 0, len(columns))
	for _, c := range columns {
		if len(c.series.Points) > 0 {
			out = append(out, *c.series)
		}
	}
	return out
}

func rowDate(rec []string, cols map[string]int) (time.Time, error) {
	if raw := field(rec, cols, "date"); raw != "" {
		return models.ParseDate(raw)
	}
	raw := field(rec, cols, "ts")
	if raw == "" {
		return time.Time{}, errors.New("missing date")
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q", raw)
	}
	return models.Date(time.UnixMilli(int64(ms))), nil
}

func parseValue(raw string) *float64 {
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// sortedColumns returns header names in column order.
func sortedColumns(cols map[string]int) []string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return cols[names[i]] < cols[names[j]] })
	return names
}

func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil, nil
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}
