package reasons

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ohmystock/ohmystock/internal/adapters"
)

// Exclusion reasons recorded by the quality gate.
const (
	ExcludeInvalidURL       = "invalid_source_url"
	ExcludeMissingPublished = "missing_published_at"
	ExcludeEmptySummary     = "empty_summary"
	ExcludeDisallowedDomain = "disallowed_domain"
	ExcludePublishedLate    = "published_after_event"
	ExcludeLinkUnreachable  = "link_unreachable"
)

// linkRetryAfter is surfaced to clients while a temporarily unreachable
// source is excluded.
const linkRetryAfter = 300 * time.Second

// Exclusion records one gated-out candidate for the audit log.
type Exclusion struct {
	Candidate  adapters.Candidate
	Reason     string
	Retryable  bool
	RetryAfter time.Duration
}

// LinkChecker probes whether an evidence URL is reachable. A nil checker
// disables the probe.
type LinkChecker interface {
	Check(ctx context.Context, url string) error
}

// Gate applies the evidence quality rules: http/https URL, published_at
// present and not past the tolerance, non-empty summary, domain allowlist,
// optional link probe.
type Gate struct {
	AllowedDomains   []string // host suffixes; empty allows all
	PublishTolerance time.Duration
	Checker          LinkChecker
}

// Apply partitions candidates into kept and excluded. detectedAt anchors the
// publish tolerance check.
func (g Gate) Apply(ctx context.Context, candidates []adapters.Candidate, detectedAt time.Time) ([]adapters.Candidate, []Exclusion) {
	var kept []adapters.Candidate
	var excluded []Exclusion

	for _, candidate := range candidates {
		if reason := g.inspect(candidate, detectedAt); reason != "" {
			excluded = append(excluded, Exclusion{Candidate: candidate, Reason: reason})
			continue
		}
		if g.Checker != nil {
			if err := g.Checker.Check(ctx, candidate.SourceURL); err != nil {
				excluded = append(excluded, Exclusion{
					Candidate:  candidate,
					Reason:     ExcludeLinkUnreachable,
					Retryable:  true,
					RetryAfter: linkRetryAfter,
				})
				continue
			}
		}
		kept = append(kept, candidate)
	}
	return kept, excluded
}

func (g Gate) inspect(candidate adapters.Candidate, detectedAt time.Time) string {
	parsed, err := url.Parse(strings.TrimSpace(candidate.SourceURL))
	if err != nil {
		return ExcludeInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ExcludeInvalidURL
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ExcludeInvalidURL
	}
	if candidate.PublishedAt == nil {
		return ExcludeMissingPublished
	}
	if strings.TrimSpace(candidate.Summary) == "" {
		return ExcludeEmptySummary
	}
	if candidate.PublishedAt.After(detectedAt.Add(g.PublishTolerance)) {
		return ExcludePublishedLate
	}
	if len(g.AllowedDomains) > 0 && !g.domainAllowed(host) {
		return ExcludeDisallowedDomain
	}
	return ""
}

func (g Gate) domainAllowed(host string) bool {
	for _, suffix := range g.AllowedDomains {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
