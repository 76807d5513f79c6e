// Package compare builds the bias-aware evidence comparison card: it
// partitions an event's reasons into positive/negative/uncertain axes by a
// bilingual polarity heuristic and caches the rendered payload.
package compare

import (
	"strings"
	"unicode"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// Axes.
const (
	AxisPositive  = "positive"
	AxisNegative  = "negative"
	AxisUncertain = "uncertain"
)

// polarityThreshold is the minimum lexical polarity magnitude before a
// reason leaves the uncertain axis.
const polarityThreshold = 0.2

// positiveTerms and negativeTerms drive the polarity score. Korean terms
// cover the KR market sources.
var positiveTerms = map[string]bool{
	"beat": true, "beats": true, "surge": true, "surges": true, "rally": true,
	"record": true, "growth": true, "profit": true, "upgrade": true, "upgraded": true,
	"approval": true, "approved": true, "wins": true, "won": true, "strong": true,
	"exceeds": true, "raised": true, "breakthrough": true, "expansion": true,
	"호재": true, "상승": true, "급등": true, "흑자": true, "수주": true,
	"승인": true, "돌파": true, "개선": true, "성장": true,
}

var negativeTerms = map[string]bool{
	"miss": true, "misses": true, "missed": true, "plunge": true, "plunges": true,
	"drop": true, "drops": true, "loss": true, "losses": true, "downgrade": true,
	"downgraded": true, "recall": true, "lawsuit": true, "probe": true, "weak": true,
	"cut": true, "cuts": true, "delay": true, "delayed": true, "bankruptcy": true,
	"fraud": true, "decline": true, "warning": true,
	"악재": true, "하락": true, "급락": true, "적자": true, "소송": true,
	"리콜": true, "연기": true, "부진": true, "경고": true,
}

// polarity scores text in [-1, 1]: +1 all positive terms, -1 all negative.
// Text with no polar terms scores 0.
func polarity(text string) float64 {
	positive, negative := 0, 0
	for _, token := range tokenize(text) {
		if positiveTerms[token] {
			positive++
		}
		if negativeTerms[token] {
			negative++
		}
	}
	total := positive + negative
	if total == 0 {
		return 0
	}
	return float64(positive-negative) / float64(total)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// axisKeys are the explicit markers some feeds embed in summaries, e.g.
// "sentiment: positive". An explicit marker outranks the keyword heuristic.
var axisKeys = []string{"axis", "sentiment", "stance", "polarity"}

var axisValues = map[string]string{
	"positive": AxisPositive, "bullish": AxisPositive,
	"negative": AxisNegative, "bearish": AxisNegative,
	"uncertain": AxisUncertain, "neutral": AxisUncertain,
}

// explicitAxis scans text for a key:value or key=value axis marker.
func explicitAxis(text string) (string, bool) {
	tokens := tokenize(text)
	for i := 0; i+1 < len(tokens); i++ {
		for _, key := range axisKeys {
			if tokens[i] == key {
				if axis, ok := axisValues[tokens[i+1]]; ok {
					return axis, true
				}
			}
		}
	}
	return "", false
}

// classify assigns one reason to an axis. An explicit axis marker wins;
// otherwise positive requires polar text whose direction matches the move,
// and polar text against the move, or outright negative text, lands on the
// negative axis. Missing source metadata forces uncertain regardless of
// text.
func classify(reason domain.EventReason, changePct float64) string {
	if reason.SourceURL == "" || reason.PublishedAt.IsZero() {
		return AxisUncertain
	}
	if axis, ok := explicitAxis(reason.Summary); ok {
		return axis
	}
	score := polarity(reason.Summary)
	switch {
	case score > polarityThreshold:
		if changePct >= 0 {
			return AxisPositive
		}
		return AxisNegative
	case score < -polarityThreshold:
		return AxisNegative
	}
	return AxisUncertain
}
