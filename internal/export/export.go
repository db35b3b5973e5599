// Package export renders the dashboard table from indicator snapshots.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/indexwatch/internal/config"
	"github.com/rewired-gh/indexwatch/internal/models"
)

// Header is the column order of every export format.
var Header = []string{
	"index_name", "index_code", "etfs",
	"pe", "pe_pct", "pb", "pb_pct",
	"dividend", "roe", "drawdown",
	"zone", "as_of",
}

// Dashboard consumers treat a missing percentile as fully expensive and a
// missing drawdown as none.
const (
	defaultPercentile = 100.0
	defaultDrawdown   = 0.0
)

const sheetName = "Dashboard"

// Row is one dashboard line. Nil numbers are written as empty cells.
type Row struct {
	Name     string
	Code     string
	ETFs     string
	PE       *float64
	PEPct    *float64
	PB       *float64
	PBPct    *float64
	Dividend *float64
	ROE      *float64
	Drawdown *float64
	Zone     string
	AsOf     string
}

// BuildRows returns one row per configured index, in configuration order.
// Indices without a snapshot get a row of defaults.
func BuildRows(indices []config.IndexEntry, snaps []models.IndicatorSnapshot) []Row {
	byCode := make(map[string]models.IndicatorSnapshot, len(snaps))
	for _, s := range snaps {
		byCode[s.IndexID] = s
	}

	rows := make([]Row, 0, len(indices))
	for _, e := range indices {
		snap := byCode[e.Code]
		row := Row{
			Name:     e.Name,
			Code:     e.Code,
			ETFs:     formatETFs(e),
			PE:       round(snap.Metric(models.MetricPE).Current, 2),
			PEPct:    orDefault(round(snap.Metric(models.MetricPE).Percentile, 2), defaultPercentile),
			PB:       round(snap.Metric(models.MetricPB).Current, 2),
			PBPct:    orDefault(round(snap.Metric(models.MetricPB).Percentile, 2), defaultPercentile),
			Dividend: round(snap.Metric(models.MetricDividendYield).Current, 4),
			ROE:      round(snap.Metric(models.MetricROE).Current, 4),
			Drawdown: orDefault(round(snap.Drawdown, 4), defaultDrawdown),
			Zone:     snap.Zone,
		}
		if !snap.AsOf.IsZero() {
			row.AsOf = snap.AsOf.Format(models.DateLayout)
		}
		rows = append(rows, row)
	}
	return rows
}

func formatETFs(e config.IndexEntry) string {
	if len(e.ETFDisplay) > 0 {
		return strings.Join(e.ETFDisplay, "; ")
	}
	return strings.Join(e.ETFProxies, "; ")
}

func round(v *float64, digits int) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	scale := math.Pow(10, float64(digits))
	r := math.Round(*v*scale) / scale
	return &r
}

func orDefault(v *float64, def float64) *float64 {
	if v == nil {
		return &def
	}
	return v
}

func (r Row) values() []interface{} {
	return []interface{}{
		r.Name, r.Code, r.ETFs,
		cell(r.PE), cell(r.PEPct), cell(r.PB), cell(r.PBPct),
		cell(r.Dividend), cell(r.ROE), cell(r.Drawdown),
		r.Zone, r.AsOf,
	}
}

func cell(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		values := r.values()
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.Code, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes rows to path, replacing any previous file.
func WriteCSVFile(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// WriteXLSXFile writes rows as a single-sheet workbook.
func WriteXLSXFile(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(Header))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		start, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := r.values()
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return fmt.Errorf("failed to write row %s: %w", r.Code, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
