// Package clock provides the injected UTC time source and opaque ID minting.
// Components never call time.Now or uuid.New directly so tests stay deterministic.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is the monotonic UTC time source.
type Clock interface {
	Now() time.Time
}

// IDs mints opaque identifiers.
type IDs interface {
	NewID() string
}

// System is the production Clock + IDs implementation.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// NewID returns a new random UUID string.
func (System) NewID() string { return uuid.NewString() }

// Fixed is a controllable clock for tests. Advance moves it forward.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed creates a Fixed clock starting at the given instant.
func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now.UTC()}
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the clock to a specific instant.
func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now.UTC()
}

// SequenceIDs mints deterministic ids ("id-1", "id-2", ...) for tests.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequenceIDs creates a SequenceIDs minting prefix-N identifiers.
func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix, next: 1}
}

// NewID returns the next deterministic identifier.
func (s *SequenceIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.prefix + "-" + itoa(s.next)
	s.next++
	return id
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
