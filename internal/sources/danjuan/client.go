// Package danjuan reads the Danjuan index valuation feed.
package danjuan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/indexwatch/internal/logger"
	"github.com/rewired-gh/indexwatch/internal/models"
	"github.com/rewired-gh/indexwatch/internal/sources"
)

// Client fetches the valuation table for every index Danjuan covers.
type Client struct {
	url  string
	base *sources.Client
}

// Item is one row of the feed. Field names follow the upstream payload,
// including its spelling of yield.
type Item struct {
	IndexCode    string    `json:"index_code"`
	Name         string    `json:"name"`
	TS           flexFloat `json:"ts"`
	PE           flexFloat `json:"pe"`
	PB           flexFloat `json:"pb"`
	PEPercentile flexFloat `json:"pe_percentile"`
	PBPercentile flexFloat `json:"pb_percentile"`
	Yield        flexFloat `json:"yeild"`
	ROE          flexFloat `json:"roe"`
	BondYield    flexFloat `json:"bond_yeild"`
	EvaType      string    `json:"eva_type"`
}

type response struct {
	Data *struct {
		Items []Item `json:"items"`
	} `json:"data"`
	ResultCode int `json:"result_code"`
}

// NewClient creates a new Danjuan client
func NewClient(url string, base *sources.Client) *Client {
	return &Client{url: url, base: base}
}

// Fetch returns the current feed, keyed by upper-cased index code.
// Items without a timestamp are dropped.
func (c *Client) Fetch(ctx context.Context) (Feed, error) {
	body, err := c.base.Get(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch danjuan feed: %w", err)
	}
	return Parse(body)
}

// Feed groups feed items by upper-cased index code.
type Feed map[string][]Item

// Parse decodes a raw feed payload.
func Parse(body []byte) (Feed, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode danjuan feed: %w", err)
	}
	if resp.Data == nil {
		return nil, errors.New("danjuan feed has no data field")
	}

	feed := make(Feed)
	for _, item := range resp.Data.Items {
		if item.TS.Value == nil {
			logger.Warn("Dropping danjuan item %q without timestamp", item.IndexCode)
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(item.IndexCode))
		feed[code] = append(feed[code], item)
	}
	return feed, nil
}

// Batches converts the items for djevaCode into one series per metric for indexID.
// It returns nil when the feed has nothing for djevaCode.
func (f Feed) Batches(indexID, djevaCode string) []models.Series {
	items := f[strings.ToUpper(strings.TrimSpace(djevaCode))]
	if len(items) == 0 {
		return nil
	}

	columns := []struct {
		metric string
		value  func(Item) *float64
	}{
		{models.MetricPE, func(i Item) *float64 { return i.PE.Value }},
		{models.MetricPB, func(i Item) *float64 { return i.PB.Value }},
		{models.MetricDividendYield, func(i Item) *float64 { return i.Yield.Value }},
		{models.MetricROE, func(i Item) *float64 { return i.ROE.Value }},
		{models.MetricBondYield, func(i Item) *float64 { return i.BondYield.Value }},
	}

	batches := make([]models.Series, 0, len(columns))
	for _, col := range columns {
		s := models.Series{IndexID: indexID, Metric: col.metric}
		for _, item := range items {
			s.Points = append(s.Points, models.TimePoint{
				Date:  item.Date(),
				Value: col.value(item),
			})
		}
		batches = append(batches, s)
	}
	return batches
}

// Date returns the UTC calendar date of the item's millisecond timestamp.
func (i Item) Date() time.Time {
	if i.TS.Value == nil {
		return time.Time{}
	}
	return models.Date(time.UnixMilli(int64(*i.TS.Value)))
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		f.Value = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			f.Value = nil
			return nil
		}
		b = []byte(s)
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.Value = nil
		return nil
	}
	f.Value = &v
	return nil
}
