// Package marketsession owns all timezone math for the supported exchanges.
// Session labels are always derived from exchange-local time computed from a
// UTC instant, never from wall-clock strings.
package marketsession

import (
	"fmt"
	"time"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Rule describes one market's session boundaries in exchange-local minutes
// of the day, plus its fixed-date holiday set.
type Rule struct {
	Timezone           string
	PreStartMinute     int
	RegularStartMinute int
	RegularEndMinute   int
	PostEndMinute      int
	HolidayMonthDays   map[[2]int]bool
}

var rules = map[domain.Market]Rule{
	domain.MarketKR: {
		Timezone:           "Asia/Seoul",
		PreStartMinute:     8 * 60,
		RegularStartMinute: 9 * 60,
		RegularEndMinute:   15*60 + 30,
		PostEndMinute:      18 * 60,
		HolidayMonthDays: map[[2]int]bool{
			{1, 1}: true, {3, 1}: true, {8, 15}: true, {10, 3}: true, {12, 25}: true,
		},
	},
	domain.MarketUS: {
		Timezone:           "America/New_York",
		PreStartMinute:     4 * 60,
		RegularStartMinute: 9*60 + 30,
		RegularEndMinute:   16 * 60,
		PostEndMinute:      20 * 60,
		HolidayMonthDays: map[[2]int]bool{
			{1, 1}: true, {7, 4}: true, {12, 25}: true,
		},
	},
}

// Timezone returns the exchange timezone name for a market.
func Timezone(market domain.Market) (string, error) {
	rule, ok := rules[market]
	if !ok {
		return "", fmt.Errorf("%w: unknown market %q", domain.ErrInvalidInput, market)
	}
	return rule.Timezone, nil
}

// Classify labels the session a UTC instant falls into for the given market.
func Classify(market domain.Market, atUTC time.Time) (domain.SessionLabel, error) {
	rule, ok := rules[market]
	if !ok {
		return "", fmt.Errorf("%w: unknown market %q", domain.ErrInvalidInput, market)
	}

	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return "", fmt.Errorf("failed to load timezone %s: %w", rule.Timezone, err)
	}
	local := atUTC.In(loc)

	if IsHoliday(market, local) {
		return domain.SessionClosed, nil
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	switch {
	case minuteOfDay >= rule.PreStartMinute && minuteOfDay < rule.RegularStartMinute:
		return domain.SessionPre, nil
	case minuteOfDay >= rule.RegularStartMinute && minuteOfDay <= rule.RegularEndMinute:
		return domain.SessionRegular, nil
	case minuteOfDay > rule.RegularEndMinute && minuteOfDay <= rule.PostEndMinute:
		return domain.SessionPost, nil
	}
	return domain.SessionClosed, nil
}

// IsHoliday reports whether the exchange-local date is a weekend or listed
// holiday. The local argument must already be in exchange-local time.
func IsHoliday(market domain.Market, local time.Time) bool {
	rule, ok := rules[market]
	if !ok {
		return false
	}
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return true
	}
	return rule.HolidayMonthDays[[2]int{int(local.Month()), local.Day()}]
}

// NextRegularOpen returns the next regular-session open strictly after the
// given UTC instant. Pre-market briefs expire at this boundary.
func NextRegularOpen(market domain.Market, afterUTC time.Time) (time.Time, error) {
	rule, ok := rules[market]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown market %q", domain.ErrInvalidInput, market)
	}
	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load timezone %s: %w", rule.Timezone, err)
	}

	local := afterUTC.In(loc)
	for day := 0; day < 14; day++ {
		candidateDate := local.AddDate(0, 0, day)
		open := time.Date(
			candidateDate.Year(), candidateDate.Month(), candidateDate.Day(),
			rule.RegularStartMinute/60, rule.RegularStartMinute%60, 0, 0, loc,
		)
		if !open.After(local) || IsHoliday(market, open) {
			continue
		}
		return open.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no trading day within 14 days for market %s", market)
}
