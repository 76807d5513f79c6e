package reasons

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/ohmystock/ohmystock/internal/adapters"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// Default signal weights: source_reliability, event_match, time_proximity.
const (
	WeightSourceReliability = 0.4
	WeightEventMatch        = 0.3
	WeightTimeProximity     = 0.3
)

// hostReputation scores evidence hosts by suffix. Regulatory filing hosts
// rank highest; unknown hosts fall back to defaultReputation.
var hostReputation = map[string]float64{
	"sec.gov":          0.98,
	"dart.fss.or.kr":   0.95,
	"krx.co.kr":        0.9,
	"reuters.com":      0.9,
	"bloomberg.com":    0.9,
	"wsj.com":          0.85,
	"ft.com":           0.85,
	"yna.co.kr":        0.8,
	"cnbc.com":         0.8,
	"hankyung.com":     0.75,
	"mk.co.kr":         0.75,
	"marketwatch.com":  0.7,
	"investing.com":    0.6,
	"seekingalpha.com": 0.55,
}

const defaultReputation = 0.4

// SourceReliability looks up the reputation for a URL's host, matching the
// longest registered suffix.
func SourceReliability(sourceURL string) float64 {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return defaultReputation
	}
	host := strings.ToLower(parsed.Hostname())
	best := defaultReputation
	bestLen := 0
	for suffix, score := range hostReputation {
		if (host == suffix || strings.HasSuffix(host, "."+suffix)) && len(suffix) > bestLen {
			best = score
			bestLen = len(suffix)
		}
	}
	return best
}

// tokenize lowercases and splits on any rune that is not a letter or digit.
// Korean text survives intact because Hangul runes are letters.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		tokens[field] = struct{}{}
	}
	return tokens
}

// EventMatch measures lexical overlap between candidate text and the event
// descriptors, normalized to [0,1] by the descriptor count.
func EventMatch(candidateText string, descriptors []string) float64 {
	if len(descriptors) == 0 {
		return 0
	}
	candidateTokens := tokenize(candidateText)
	descriptorTokens := tokenize(strings.Join(descriptors, " "))
	if len(descriptorTokens) == 0 {
		return 0
	}
	matched := 0
	for token := range descriptorTokens {
		if _, ok := candidateTokens[token]; ok {
			matched++
		}
	}
	return domain.Clamp01(float64(matched) / float64(len(descriptorTokens)))
}

// TimeProximity decays linearly from 1 at detection time to 0 at the horizon.
func TimeProximity(publishedAt, detectedAt time.Time, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 0
	}
	distance := detectedAt.Sub(publishedAt)
	if distance < 0 {
		distance = -distance
	}
	return domain.Clamp01(1 - float64(distance)/float64(horizon))
}

// Scorer computes the three-signal confidence for a gated candidate.
type Scorer struct {
	ProximityHorizon time.Duration
}

// Score builds the full breakdown for a candidate. Signals keep 4 decimals;
// published products and the total are rounded to 2.
func (s Scorer) Score(candidate adapters.Candidate, detectedAt time.Time, descriptors []string) (float64, domain.ConfidenceBreakdown) {
	reliability := domain.Round4(SourceReliability(candidate.SourceURL))
	match := domain.Round4(EventMatch(candidate.Title+" "+candidate.Summary, descriptors))
	proximity := 0.0
	if candidate.PublishedAt != nil {
		proximity = domain.Round4(TimeProximity(*candidate.PublishedAt, detectedAt, s.ProximityHorizon))
	}

	total := WeightSourceReliability*reliability + WeightEventMatch*match + WeightTimeProximity*proximity

	breakdown := domain.ConfidenceBreakdown{
		Weights: map[string]float64{
			domain.SignalSourceReliability: WeightSourceReliability,
			domain.SignalEventMatch:        WeightEventMatch,
			domain.SignalTimeProximity:     WeightTimeProximity,
		},
		Signals: map[string]float64{
			domain.SignalSourceReliability: reliability,
			domain.SignalEventMatch:        match,
			domain.SignalTimeProximity:     proximity,
		},
		ScoreBreakdown: domain.ScoreBreakdown{
			SourceReliability: domain.Round2(WeightSourceReliability * reliability),
			EventMatch:        domain.Round2(WeightEventMatch * match),
			TimeProximity:     domain.Round2(WeightTimeProximity * proximity),
			Total:             domain.Round2(total),
		},
	}
	return domain.Round2(total), breakdown
}

// forbiddenAdviceTerms must never appear in explanation text. The card
// explains a move; it never recommends action.
var forbiddenAdviceTerms = []string{
	"buy now", "sell now", "strong buy", "strong sell",
	"must buy", "must sell", "guaranteed",
	"매수 추천", "매도 추천", "적극 매수", "적극 매도", "확실한 수익",
}

// ValidateExplanation rejects explanation text containing advice language.
func ValidateExplanation(text string) error {
	lowered := strings.ToLower(text)
	for _, term := range forbiddenAdviceTerms {
		if strings.Contains(lowered, term) {
			return fmt.Errorf("%w: explanation contains advice term %q", domain.ErrInvalidInput, term)
		}
	}
	return nil
}

// BuildExplanationText renders the neutral one-line explanation shown on the
// reason card.
func BuildExplanationText(event domain.PriceEvent, candidate adapters.Candidate, breakdown domain.ConfidenceBreakdown) string {
	host := ""
	if parsed, err := url.Parse(candidate.SourceURL); err == nil {
		host = strings.ToLower(parsed.Hostname())
	}
	direction := "moved"
	if event.ChangePct > 0 {
		direction = "rose"
	} else if event.ChangePct < 0 {
		direction = "fell"
	}
	age := ""
	if candidate.PublishedAt != nil {
		delta := event.DetectedAt.Sub(*candidate.PublishedAt)
		if delta < 0 {
			delta = -delta
		}
		age = fmt.Sprintf(" published %s before detection", delta.Round(time.Minute))
	}
	return fmt.Sprintf("%s %s %.2f%% over %dm; %s from %s%s matches the move with confidence %.2f.",
		event.Symbol, direction, event.ChangePct, event.WindowMinutes,
		candidate.ReasonType, host, age, breakdown.ScoreBreakdown.Total)
}
