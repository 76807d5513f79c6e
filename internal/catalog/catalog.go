// Package catalog provides the read-only (market, ticker) -> security mapping
// used to validate watchlist inputs and serve symbol search.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Security is one catalog row.
type Security struct {
	Ticker string        `json:"ticker"`
	Name   string        `json:"name"`
	Market domain.Market `json:"market"`
	Active bool          `json:"active"`
}

// Catalog is immutable after construction, so reads need no locking.
type Catalog struct {
	version     string
	byKey       map[string]Security
	byMarket    map[domain.Market][]Security
	minQueryLen int
	maxQueryLen int
}

const (
	minQueryLength = 2
	maxQueryLength = 20
)

// New builds a catalog from seed rows. Duplicate (market, ticker) pairs keep
// the first occurrence.
func New(version string, securities []Security) *Catalog {
	c := &Catalog{
		version:     version,
		byKey:       make(map[string]Security, len(securities)),
		byMarket:    make(map[domain.Market][]Security),
		minQueryLen: minQueryLength,
		maxQueryLen: maxQueryLength,
	}
	for _, sec := range securities {
		sec.Ticker = strings.ToUpper(strings.TrimSpace(sec.Ticker))
		if sec.Ticker == "" {
			continue
		}
		key := catalogKey(sec.Market, sec.Ticker)
		if _, exists := c.byKey[key]; exists {
			continue
		}
		c.byKey[key] = sec
		c.byMarket[sec.Market] = append(c.byMarket[sec.Market], sec)
	}
	for market := range c.byMarket {
		rows := c.byMarket[market]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Ticker < rows[j].Ticker })
	}
	return c
}

// Version returns the catalog version string included in search responses.
func (c *Catalog) Version() string { return c.version }

// Lookup returns the security for (market, ticker) when present and active.
func (c *Catalog) Lookup(market domain.Market, ticker string) (Security, bool) {
	sec, ok := c.byKey[catalogKey(market, strings.ToUpper(strings.TrimSpace(ticker)))]
	if !ok || !sec.Active {
		return Security{}, false
	}
	return sec, true
}

// Search returns securities whose ticker or name contains the query,
// case-insensitively. Ticker prefix matches sort first.
func (c *Catalog) Search(query string, market domain.Market) ([]Security, error) {
	normalized := strings.ToUpper(strings.TrimSpace(query))
	if n := utf8.RuneCountInString(normalized); n < c.minQueryLen || n > c.maxQueryLen {
		return nil, fmt.Errorf("%w: q length must be between %d and %d", domain.ErrInvalidInput, c.minQueryLen, c.maxQueryLen)
	}

	var prefix, substring []Security
	for _, sec := range c.byMarket[market] {
		if !sec.Active {
			continue
		}
		upperName := strings.ToUpper(sec.Name)
		switch {
		case strings.HasPrefix(sec.Ticker, normalized):
			prefix = append(prefix, sec)
		case strings.Contains(sec.Ticker, normalized) || strings.Contains(upperName, normalized):
			substring = append(substring, sec)
		}
	}
	return append(prefix, substring...), nil
}

// ByMarket returns the active securities for a market, ticker-ordered.
func (c *Catalog) ByMarket(market domain.Market) []Security {
	rows := c.byMarket[market]
	active := make([]Security, 0, len(rows))
	for _, sec := range rows {
		if sec.Active {
			active = append(active, sec)
		}
	}
	return active
}

func catalogKey(market domain.Market, ticker string) string {
	return string(market) + ":" + ticker
}
