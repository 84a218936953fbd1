package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SourceType identifies the platform a canonical URL belongs to.
type SourceType string

const (
	SourceYouTube       SourceType = "youtube"
	SourceReddit        SourceType = "reddit"
	SourceStackOverflow SourceType = "stackoverflow"
	SourceWeb           SourceType = "web"
)

// String returns the stored representation of the source type.
func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType maps a stored tag back to a SourceType.
func ParseSourceType(value string) (SourceType, bool) {
	switch SourceType(strings.ToLower(strings.TrimSpace(value))) {
	case SourceYouTube:
		return SourceYouTube, true
	case SourceReddit:
		return SourceReddit, true
	case SourceStackOverflow:
		return SourceStackOverflow, true
	case SourceWeb:
		return SourceWeb, true
	default:
		return "", false
	}
}

// ErrInvalidURL indicates the input could not be parsed as an absolute URL.
var ErrInvalidURL = errors.New("urlnorm: invalid url")

var (
	stackOverflowQuestionPattern = regexp.MustCompile(`/questions/(\d+)`)
	trackingParameters           = []string{
		"utm_source",
		"utm_medium",
		"utm_campaign",
		"utm_term",
		"utm_content",
		"fbclid",
		"gclid",
	}
)

// Result is the canonical form of a submitted URL.
type Result struct {
	CanonicalURL string
	SourceType   SourceType
}

// Normalize classifies rawURL and returns its canonical deduplication key.
func Normalize(rawURL string) (Result, error) {
	parsed, err := parseAbsolute(rawURL)
	if err != nil {
		return Result{}, err
	}

	host := strings.ToLower(parsed.Hostname())

	switch host {
	case "youtube.com", "www.youtube.com":
		if videoID := parsed.Query().Get("v"); videoID != "" {
			return Result{CanonicalURL: youTubeWatchURL(videoID), SourceType: SourceYouTube}, nil
		}
	case "youtu.be":
		if videoID := firstPathSegment(parsed.Path); videoID != "" {
			return Result{CanonicalURL: youTubeWatchURL(videoID), SourceType: SourceYouTube}, nil
		}
	case "reddit.com", "www.reddit.com":
		return Result{CanonicalURL: "https://www.reddit.com" + parsed.EscapedPath(), SourceType: SourceReddit}, nil
	case "stackoverflow.com", "www.stackoverflow.com":
		if match := stackOverflowQuestionPattern.FindStringSubmatch(parsed.Path); match != nil {
			return Result{CanonicalURL: "https://stackoverflow.com/questions/" + match[1], SourceType: SourceStackOverflow}, nil
		}
	}

	return Result{CanonicalURL: stripTracking(parsed), SourceType: SourceWeb}, nil
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidURL)
	}
	// Opaque URLs such as javascript:alert(1) are absolute but hostless.
	if parsed.Host == "" && parsed.Opaque == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed, nil
}

func youTubeWatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

func firstPathSegment(path string) string {
	segment := strings.TrimPrefix(path, "/")
	if index := strings.Index(segment, "/"); index >= 0 {
		segment = segment[:index]
	}
	return segment
}

func stripTracking(parsed *url.URL) string {
	cleaned := *parsed
	cleaned.Fragment = ""
	cleaned.RawFragment = ""
	cleaned.RawQuery = stripTrackingQuery(cleaned.RawQuery)
	cleaned.ForceQuery = false
	return cleaned.String()
}

// stripTrackingQuery drops tracking pairs from a raw query. Surviving pairs
// keep their original order and encoding.
func stripTrackingQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if isTrackingParameter(key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func isTrackingParameter(key string) bool {
	for _, param := range trackingParameters {
		if key == param {
			return true
		}
	}
	return false
}
