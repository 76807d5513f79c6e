// Package reasons implements the explanation pipeline for price events:
// candidate fetch fan-out, quality gating, canonical URL deduplication,
// multi-signal scoring, ranking, and persistence with fetch audits.
package reasons

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ohmystock/ohmystock/internal/adapters"
	"github.com/ohmystock/ohmystock/internal/domain"
)

// trackingParams are stripped during canonicalization. utm_* is handled by
// prefix.
var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"mc_cid": {},
	"mc_eid": {},
	"ref":    {},
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, tracked := trackingParams[key]
	return tracked
}

// CanonicalURL normalizes a source URL so duplicates compare equal:
// lowercase scheme/host, default ports stripped, fragment dropped, tracking
// params removed, remaining query keys sorted, empty path rendered as "/".
func CanonicalURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: unparseable source_url %q", domain.ErrInvalidInput, raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: source_url must be http or https", domain.ErrInvalidInput)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: source_url must have a host", domain.ErrInvalidInput)
	}
	port := parsed.Port()
	if port != "" && !((scheme == "http" && port == "80") || (scheme == "https" && port == "443")) {
		host = host + ":" + port
	}

	query := url.Values{}
	for key, values := range parsed.Query() {
		if isTrackingParam(key) {
			continue
		}
		for _, value := range values {
			query.Add(key, value)
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	canonical := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: query.Encode(), // Encode sorts keys
	}
	return canonical.String(), nil
}

// dedupe collapses candidates sharing a canonical URL. The survivor keeps the
// earlier published_at and the longer non-empty summary. Candidates whose URL
// cannot be canonicalized are skipped; the gate has already rejected those.
func dedupe(candidates []adapters.Candidate) []adapters.Candidate {
	byURL := make(map[string]adapters.Candidate, len(candidates))
	order := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		canonical, err := CanonicalURL(candidate.SourceURL)
		if err != nil {
			continue
		}
		candidate.SourceURL = canonical

		existing, seen := byURL[canonical]
		if !seen {
			byURL[canonical] = candidate
			order = append(order, canonical)
			continue
		}
		byURL[canonical] = mergeCandidates(existing, candidate)
	}

	merged := make([]adapters.Candidate, 0, len(order))
	for _, canonical := range order {
		merged = append(merged, byURL[canonical])
	}
	return merged
}

func mergeCandidates(a, b adapters.Candidate) adapters.Candidate {
	base, other := a, b
	if base.PublishedAt != nil && other.PublishedAt != nil && other.PublishedAt.Before(*base.PublishedAt) {
		base, other = other, base
	}
	if len(strings.TrimSpace(other.Summary)) > len(strings.TrimSpace(base.Summary)) {
		base.Summary = other.Summary
	}
	if strings.TrimSpace(base.Title) == "" {
		base.Title = other.Title
	}
	return base
}
