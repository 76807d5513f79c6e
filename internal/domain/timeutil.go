package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ParseUTC parses an RFC3339 timestamp and normalizes it to UTC.
// A trailing "Z" and explicit offsets are both accepted.
func ParseUTC(value string) (time.Time, error) {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return time.Time{}, fmt.Errorf("%w: timestamp must not be empty", ErrInvalidInput)
	}
	parsed, err := time.Parse(time.RFC3339, normalized)
	if err != nil {
		// Second chance for timestamps without sub-second precision markers.
		parsed, err = time.Parse("2006-01-02T15:04:05", normalized)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrInvalidInput, value)
		}
	}
	return parsed.UTC(), nil
}

// FormatUTC renders a timestamp as RFC3339 UTC with a "Z" suffix.
func FormatUTC(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

// Round2 rounds to 2 decimal places. Published confidence values use this.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// Round4 rounds to 4 decimal places. Internal signal values use this.
func Round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

// Clamp01 clamps a signal into [0,1].
func Clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
