// Package factsheet extracts headline valuation figures from index factsheet PDFs.
package factsheet

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/sources"
)

// Figures are the values read from one factsheet. Nil means not found.
type Figures struct {
	PE            *float64
	PB            *float64
	DividendYield *float64
}

// Client downloads and parses factsheets.
type Client struct {
	base *sources.Client
}

// NewClient creates a new factsheet client
func NewClient(base *sources.Client) *Client {
	return &Client{base: base}
}

// Fetch downloads the factsheet at url and returns one single-point series per
// figure, dated the first day of asOf's month.
func (c *Client) Fetch(ctx context.Context, indexID, url string, asOf time.Time) ([]models.Series, error) {
	body, err := c.base.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download factsheet: %w", err)
	}
	lines, err := ExtractLines(body)
	if err != nil {
		return nil, err
	}
	return Parse(lines).Batches(indexID, asOf), nil
}

// ExtractLines returns the text rows of every page of a PDF document.
func ExtractLines(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var lines []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var sb strings.Builder
			for _, word := range row.Content {
				sb.WriteString(word.S)
			}
			if line := strings.TrimSpace(sb.String()); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var (
	peKeys       = []string{"p/e", "pe ratio", "市盈率"}
	pbKeys       = []string{"p/b", "pb ratio", "市净率"}
	dividendKeys = []string{"dividend yield", "股息率"}
)

// Parse reads the first figure on the first line naming each ratio.
// Values on lines containing a percent sign are converted to fractions.
func Parse(lines []string) Figures {
	return Figures{
		PE:            extract(lines, peKeys),
		PB:            extract(lines, pbKeys),
		DividendYield: extract(lines, dividendKeys),
	}
}

func extract(lines []string, keys []string) *float64 {
	for _, line := range lines {
		norm := strings.ToLower(strings.ReplaceAll(line, "：", ":"))
		if !containsAny(norm, keys) {
			continue
		}
		match := numberPattern.FindString(line)
		if match == "" {
			continue
		}
		v, err := strconv.ParseFloat(match, 64)
		if err != nil {
			continue
		}
		if strings.Contains(line, "%") {
			v /= 100
		}
		return &v
	}
	return nil
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Batches returns one single-point series per figure, dated the first of asOf's month.
func (f Figures) Batches(indexID string, asOf time.Time) []models.Series {
	day := models.Date(asOf)
	date := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	figures := []struct {
		metric string
		value  *float64
	}{
		{models.MetricPE, f.PE},
		{models.MetricPB, f.PB},
		{models.MetricDividendYield, f.DividendYield},
	}

	batches := make([]models.Series, 0, len(figures))
	for _, fig := range figures {
		batches = append(batches, models.Series{
			IndexID: indexID,
			Metric:  fig.metric,
			Points:  []models.TimePoint{{Date: date, Value: fig.value}},
		})
	}
	return batches
}
