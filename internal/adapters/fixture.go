package adapters

import (
	"context"
	"strings"
	"sync"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Fixture is a deterministic in-memory adapter for tests and seeded dev runs.
// Records outside the requested window are filtered like a real source would.
type Fixture struct {
	name string

	mu       sync.Mutex
	records  map[string][]Candidate
	err      error
	failLeft int // when > 0, the next failLeft calls fail with err
	calls    int
}

// NewFixture creates a fixture adapter serving records keyed by symbol.
func NewFixture(name string, recordsBySymbol map[string][]Candidate) *Fixture {
	if recordsBySymbol == nil {
		recordsBySymbol = make(map[string][]Candidate)
	}
	return &Fixture{name: name, records: recordsBySymbol}
}

// Name returns the fixture's source name.
func (f *Fixture) Name() string { return f.name }

// Fail makes every subsequent Fetch return err. Pass nil to recover.
func (f *Fixture) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.failLeft = 0
}

// FailTimes makes the next n Fetch calls return err, then recover.
func (f *Fixture) FailTimes(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.failLeft = n
}

// Calls returns how many times Fetch ran.
func (f *Fixture) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Add appends a record for a symbol.
func (f *Fixture) Add(symbol string, candidate Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToUpper(strings.TrimSpace(symbol))
	f.records[key] = append(f.records[key], candidate)
}

// Fetch returns the symbol's records inside the window.
func (f *Fixture) Fetch(ctx context.Context, symbol string, _ domain.Market, window TimeRange) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		if f.failLeft == 0 {
			return nil, f.err
		}
		f.failLeft--
		if f.failLeft == 0 {
			err := f.err
			f.err = nil
			return nil, err
		}
		return nil, f.err
	}

	var matched []Candidate
	for _, candidate := range f.records[strings.ToUpper(strings.TrimSpace(symbol))] {
		if candidate.PublishedAt != nil {
			at := candidate.PublishedAt.UTC()
			if at.Before(window.Start) || at.After(window.End) {
				continue
			}
		}
		if candidate.Source == "" {
			candidate.Source = f.name
		}
		matched = append(matched, candidate)
	}
	return matched, nil
}
