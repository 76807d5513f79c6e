// Package domain holds shared domain types used across modules.
// It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"strings"
)

// Market identifies a supported exchange region.
type Market string

const (
	MarketKR Market = "KR"
	MarketUS Market = "US"
)

// Markets lists all supported markets in stable order.
func Markets() []Market {
	return []Market{MarketKR, MarketUS}
}

// NormalizeMarket validates and canonicalizes a market code.
func NormalizeMarket(value string) (Market, error) {
	normalized := Market(strings.ToUpper(strings.TrimSpace(value)))
	switch normalized {
	case MarketKR, MarketUS:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: market must be KR or US", ErrInvalidInput)
}

// SessionLabel classifies the trading session an event was detected in.
type SessionLabel string

const (
	SessionPre     SessionLabel = "pre"
	SessionRegular SessionLabel = "regular"
	SessionPost    SessionLabel = "post"
	SessionClosed  SessionLabel = "closed"
)

// NormalizeSessionLabel validates a session label string.
func NormalizeSessionLabel(value string) (SessionLabel, error) {
	normalized := SessionLabel(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case SessionPre, SessionRegular, SessionPost, SessionClosed:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: session_label must be pre, regular, post, or closed", ErrInvalidInput)
}

// NormalizeSymbol trims and uppercases a ticker symbol.
func NormalizeSymbol(value string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return "", fmt.Errorf("%w: symbol must not be empty", ErrInvalidInput)
	}
	return normalized, nil
}

// RequireNonEmpty trims a value and fails with ErrInvalidInput when blank.
func RequireNonEmpty(value, field string) (string, error) {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidInput, field)
	}
	return normalized, nil
}
