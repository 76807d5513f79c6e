package feed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/ohmystock/ohmystock/internal/adapters"
	"github.com/ohmystock/ohmystock/internal/catalog"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// headlineTemplates produce plausible evidence summaries. The company name is
// substituted so event_match scoring has descriptors to hit.
var headlineTemplates = []struct {
	reasonType string
	host       string
	format     string
}{
	{domain.ReasonTypeNews, "reuters.com", "%s shares move after quarterly results beat analyst estimates"},
	{domain.ReasonTypeNews, "cnbc.com", "%s stock in focus as analysts revise price targets"},
	{domain.ReasonTypeFiling, "sec.gov", "%s files updated disclosure on material corporate action"},
	{domain.ReasonTypeNews, "yna.co.kr", "%s 주가 변동, 실적 발표 이후 거래량 급증"},
	{domain.ReasonTypeFiling, "dart.fss.or.kr", "%s 주요사항보고서 공시"},
}

// Headlines is the dev-mode evidence source. Each fetch fabricates one or two
// in-window candidates for the symbol so the scoring pipeline has material.
type Headlines struct {
	name string
	cat  *catalog.Catalog

	mu  sync.Mutex
	rng *rand.Rand
	seq int
}

// NewHeadlines creates a headlines source.
func NewHeadlines(name string, cat *catalog.Catalog, seed int64) *Headlines {
	return &Headlines{name: name, cat: cat, rng: rand.New(rand.NewSource(seed))}
}

// Name implements adapters.Adapter.
func (h *Headlines) Name() string { return h.name }

// Fetch implements adapters.Adapter.
func (h *Headlines) Fetch(ctx context.Context, symbol string, market domain.Market, window adapters.TimeRange) ([]adapters.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := symbol
	if sec, ok := h.cat.Lookup(market, symbol); ok {
		subject = sec.Name
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	count := 1 + h.rng.Intn(2)
	candidates := make([]adapters.Candidate, 0, count)
	for i := 0; i < count; i++ {
		template := headlineTemplates[h.rng.Intn(len(headlineTemplates))]
		publishedAt := window.End.Add(-window.End.Sub(window.Start) / 4)
		h.seq++
		candidates = append(candidates, adapters.Candidate{
			Source:      h.name,
			ReasonType:  template.reasonType,
			Title:       fmt.Sprintf(template.format, subject),
			Summary:     fmt.Sprintf(template.format, subject),
			SourceURL:   fmt.Sprintf("https://%s/%s/%s-%d", template.host, strings.ToLower(symbol), h.name, h.seq),
			PublishedAt: &publishedAt,
		})
	}
	return candidates, nil
}
