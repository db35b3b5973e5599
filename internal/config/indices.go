package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Market classes of tracked indices; each selects a set of upstream sources.
const (
	ClassCN = "CN_CSI"
	ClassHK = "HK_HSI"
	ClassUS = "US_INDEX"
)

// IndexEntry is one tracked index from the indices file.
type IndexEntry struct {
	Code         string   `yaml:"code"`
	Name         string   `yaml:"name"`
	Class        string   `yaml:"class"`
	PriceSymbol  string   `yaml:"price_symbol"`
	ETFProxies   []string `yaml:"etf_proxies"`
	ETFDisplay   []string `yaml:"etf_display"`
	DjevaCode    string   `yaml:"djeva_code"`
	FactsheetURL string   `yaml:"factsheet_url"`
}

// Validate checks index entry constraints.
func (e *IndexEntry) Validate() error {
	if e.Code == "" {
		return errors.New("index code must not be empty")
	}
	if e.Name == "" {
		return fmt.Errorf("index %s: name must not be empty", e.Code)
	}
	switch e.Class {
	case ClassCN, ClassHK, ClassUS:
	default:
		return fmt.Errorf("index %s: class must be one of %s, %s, %s", e.Code, ClassCN, ClassHK, ClassUS)
	}
	return nil
}

// PriceCandidates returns the symbols tried, in order, for the price series.
func (e *IndexEntry) PriceCandidates() []string {
	return dedupe(append([]string{e.PriceSymbol}, e.ETFProxies...))
}

// DividendCandidates returns the symbols tried, in order, for the dividend yield series.
func (e *IndexEntry) DividendCandidates() []string {
	return dedupe(e.ETFProxies)
}

// LoadIndices reads the YAML list of tracked indices.
func LoadIndices(path string) ([]IndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read indices file: %w", err)
	}
	var entries []IndexEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("indices file must define a list of index entries: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if seen[entries[i].Code] {
			return nil, fmt.Errorf("entry %d: duplicate index code %s", i, entries[i].Code)
		}
		seen[entries[i].Code] = true
	}
	return entries, nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
