// Package yahoo reads daily closes and dividends from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/sources"
)

// ErrNoData is returned when no candidate symbol yields usable rows.
var ErrNoData = errors.New("no data for any candidate symbol")

// Client fetches chart data from a Yahoo-compatible endpoint.
type Client struct {
	baseURL string
	base    *sources.Client
}

// Dividend is one cash distribution.
type Dividend struct {
	Date   time.Time
	Amount float64
}

// Chart is the daily history of one symbol.
type Chart struct {
	Symbol    string
	Closes    []models.TimePoint
	Dividends []Dividend
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
			Events struct {
				Dividends map[string]struct {
					Amount float64 `json:"amount"`
					Date   int64   `json:"date"`
				} `json:"dividends"`
			} `json:"events"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// NewClient creates a new Yahoo chart client
func NewClient(baseURL string, base *sources.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), base: base}
}

// FetchChart retrieves daily closes and dividends for symbol between from and to.
func (c *Client) FetchChart(ctx context.Context, symbol string, from, to time.Time) (*Chart, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	var resp chartResponse
	if err := c.base.GetJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", symbol, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart error for %s: %s", symbol, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return &Chart{Symbol: symbol}, nil
	}

	r := resp.Chart.Result[0]
	offset := time.Duration(r.Meta.GMTOffset) * time.Second
	chart := &Chart{Symbol: symbol}

	var closes []*float64
	if len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
	}
	for i, ts := range r.Timestamp {
		if i >= len(closes) {
			break
		}
		chart.Closes = append(chart.Closes, models.TimePoint{
			Date:  models.Date(time.Unix(ts, 0).Add(offset)),
			Value: closes[i],
		})
	}

	for _, d := range r.Events.Dividends {
		chart.Dividends = append(chart.Dividends, Dividend{
			Date:   models.Date(time.Unix(d.Date, 0).Add(offset)),
			Amount: d.Amount,
		})
	}
	sort.Slice(chart.Dividends, func(i, j int) bool {
		return chart.Dividends[i].Date.Before(chart.Dividends[j].Date)
	})

	return chart, nil
}

// FetchPrice returns the close series of the first candidate with present closes,
// together with the symbol that served it.
func (c *Client) FetchPrice(ctx context.Context, indexID string, candidates []string, from, to time.Time) (models.Series, string, error) {
	return c.firstUsable(ctx, candidates, from, to, func(chart *Chart) models.Series {
		return models.Series{IndexID: indexID, Metric: models.MetricPrice, Points: chart.Closes}
	})
}

// FetchDividendYield returns the trailing-twelve-month dividend yield of the
// first candidate that yields one.
func (c *Client) FetchDividendYield(ctx context.Context, indexID string, candidates []string, from, to time.Time) (models.Series, string, error) {
	return c.firstUsable(ctx, candidates, from, to, func(chart *Chart) models.Series {
		return models.Series{
			IndexID: indexID,
			Metric:  models.MetricDividendYield,
			Points:  TrailingYield(chart.Closes, chart.Dividends),
		}
	})
}

func (c *Client) firstUsable(ctx context.Context, candidates []string, from, to time.Time, build func(*Chart) models.Series) (models.Series, string, error) {
	lastErr := ErrNoData
	for _, symbol := range candidates {
		chart, err := c.FetchChart(ctx, symbol, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return models.Series{}, "", ctx.Err()
			}
			logger.Warn("Symbol %s failed: %v", symbol, err)
			lastErr = err
			continue
		}
		s := build(chart)
		if hasPresent(s.Points) {
			return s, symbol, nil
		}
		logger.Debug("Symbol %s returned no usable rows", symbol)
	}
	return models.Series{}, "", lastErr
}

// TrailingYield divides the dividends paid over the trailing 365 days by each close.
// A dividend counts from the first close on or after its date. Closes that are
// absent or non-positive produce no point.
func TrailingYield(closes []models.TimePoint, dividends []Dividend) []models.TimePoint {
	sorted := make([]models.TimePoint, 0, len(closes))
	for _, p := range closes {
		if p.Present() && *p.Value > 0 {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	// paid[i] is the dividend booked on sorted[i]
	paid := make([]float64, len(sorted))
	for _, d := range dividends {
		i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Date.Before(d.Date) })
		if i < len(sorted) {
			paid[i] += d.Amount
		}
	}

	out := make([]models.TimePoint, 0, len(sorted))
	start := 0
	for i, p := range sorted {
		cutoff := p.Date.AddDate(0, 0, -365)
		for !sorted[start].Date.After(cutoff) {
			start++
		}
		sum := 0.0
		for _, amount := range paid[start : i+1] {
			sum += amount
		}
		out = append(out, models.Point(p.Date, sum/(*p.Value)))
	}
	return out
}

func hasPresent(points []models.TimePoint) bool {
	for _, p := range points {
		if p.Present() {
			return true
		}
	}
	return false
}
