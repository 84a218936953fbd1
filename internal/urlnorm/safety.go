package urlnorm

import (
	"net/url"
	"regexp"
	"strings"
)

// SafetyReason names the rule that rejected a URL.
type SafetyReason string

const (
	ReasonInvalidURL        SafetyReason = "invalid_url"
	ReasonUnsafeProtocol    SafetyReason = "unsafe_protocol"
	ReasonDomainNotAllowed  SafetyReason = "domain_not_allowed"
	ReasonSuspiciousPattern SafetyReason = "suspicious_pattern"
)

// Message returns the human-readable explanation stored on rejected submissions.
func (r SafetyReason) Message() string {
	switch r {
	case ReasonInvalidURL:
		return "Invalid URL format"
	case ReasonUnsafeProtocol:
		return "Unsafe protocol"
	case ReasonDomainNotAllowed:
		return "Domain not in allowlist"
	case ReasonSuspiciousPattern:
		return "Suspicious URL pattern"
	default:
		return string(r)
	}
}

// DefaultAllowedDomains returns the stock allow-list of submission domains.
func DefaultAllowedDomains() []string {
	return []string{
		"youtube.com",
		"youtu.be",
		"reddit.com",
		"stackoverflow.com",
		"stackexchange.com",
	}
}

// Verdict is the outcome of IsSafe. Reason is empty when Safe is true.
type Verdict struct {
	Safe   bool
	Reason SafetyReason
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.exe$`),
	regexp.MustCompile(`(?i)\.zip$`),
	regexp.MustCompile(`(?i)\.rar$`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:`),
}

// IsSafe applies the submission allow-list to rawURL.
//
// This is a coarse policy filter: protocol, domain allow-list and a handful of
// suspicious patterns. It does not inspect content and should not be treated
// as a malware or phishing check.
func IsSafe(rawURL string, allowedDomains []string) Verdict {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return Verdict{Reason: ReasonInvalidURL}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return Verdict{Reason: ReasonUnsafeProtocol}
	}

	if !IsAllowedDomain(parsed.Hostname(), allowedDomains) {
		return Verdict{Reason: ReasonDomainNotAllowed}
	}

	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(rawURL) {
			return Verdict{Reason: ReasonSuspiciousPattern}
		}
	}

	return Verdict{Safe: true}
}

// IsAllowedDomain reports whether host equals or is a subdomain of an allow-listed domain.
// A leading "www." is ignored on both sides.
func IsAllowedDomain(host string, allowedDomains []string) bool {
	hostname := stripWWW(strings.ToLower(strings.TrimSuffix(host, ".")))
	if hostname == "" {
		return false
	}
	for _, domain := range allowedDomains {
		candidate := stripWWW(strings.ToLower(strings.TrimSpace(domain)))
		if candidate == "" {
			continue
		}
		if hostname == candidate || strings.HasSuffix(hostname, "."+candidate) {
			return true
		}
	}
	return false
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}
