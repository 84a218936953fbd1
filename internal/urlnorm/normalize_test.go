package urlnorm

import (
	"errors"
	"testing"
)

var testAllowedDomains = []string{"youtube.com", "youtu.be", "reddit.com", "stackoverflow.com", "stackexchange.com"}

func TestNormalizeCanonicalForms(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		wantCanonical string
		wantSource    SourceType
	}{
		{
			name:          "youtube-watch-with-share",
			input:         "https://youtube.com/watch?v=abc123&feature=share",
			wantCanonical: "https://www.youtube.com/watch?v=abc123",
			wantSource:    SourceYouTube,
		},
		{
			name:          "youtube-www-host",
			input:         "https://www.youtube.com/watch?list=PL1&v=abc123#t=30",
			wantCanonical: "https://www.youtube.com/watch?v=abc123",
			wantSource:    SourceYouTube,
		},
		{
			name:          "youtu-be-short-link",
			input:         "https://youtu.be/abc123",
			wantCanonical: "https://www.youtube.com/watch?v=abc123",
			wantSource:    SourceYouTube,
		},
		{
			name:          "reddit-strips-query",
			input:         "https://reddit.com/r/test/comments/xyz/title/?utm_source=x",
			wantCanonical: "https://www.reddit.com/r/test/comments/xyz/title/",
			wantSource:    SourceReddit,
		},
		{
			name:          "reddit-strips-fragment",
			input:         "http://www.reddit.com/r/golang/comments/abc/#comments",
			wantCanonical: "https://www.reddit.com/r/golang/comments/abc/",
			wantSource:    SourceReddit,
		},
		{
			name:          "stackoverflow-drops-slug",
			input:         "https://stackoverflow.com/questions/123/how-do-i",
			wantCanonical: "https://stackoverflow.com/questions/123",
			wantSource:    SourceStackOverflow,
		},
		{
			name:          "stackoverflow-www-host",
			input:         "https://www.stackoverflow.com/questions/987654/slug?answertab=votes",
			wantCanonical: "https://stackoverflow.com/questions/987654",
			wantSource:    SourceStackOverflow,
		},
		{
			name:          "stackoverflow-non-question-falls-back-to-web",
			input:         "https://stackoverflow.com/tags/go",
			wantCanonical: "https://stackoverflow.com/tags/go",
			wantSource:    SourceWeb,
		},
		{
			name:          "youtube-without-video-is-web",
			input:         "https://www.youtube.com/feed/trending",
			wantCanonical: "https://www.youtube.com/feed/trending",
			wantSource:    SourceWeb,
		},
		{
			name:          "web-strips-tracking",
			input:         "https://example.com/post?id=7&utm_source=news&utm_medium=email&fbclid=abc&gclid=def#section",
			wantCanonical: "https://example.com/post?id=7",
			wantSource:    SourceWeb,
		},
		{
			name:          "web-keeps-query-order",
			input:         "https://example.com/search?b=2&utm_source=x&a=1",
			wantCanonical: "https://example.com/search?b=2&a=1",
			wantSource:    SourceWeb,
		},
		{
			name:          "web-drops-query-of-only-tracking",
			input:         "https://example.com/post?utm_source=x&gclid=y",
			wantCanonical: "https://example.com/post",
			wantSource:    SourceWeb,
		},
		{
			name:          "web-without-query",
			input:         "https://example.com/a/b",
			wantCanonical: "https://example.com/a/b",
			wantSource:    SourceWeb,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result, err := Normalize(testCase.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.CanonicalURL != testCase.wantCanonical {
				t.Fatalf("canonical mismatch: got %q want %q", result.CanonicalURL, testCase.wantCanonical)
			}
			if result.SourceType != testCase.wantSource {
				t.Fatalf("source mismatch: got %s want %s", result.SourceType, testCase.wantSource)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://youtube.com/watch?v=abc123&feature=share",
		"https://youtu.be/abc123",
		"https://reddit.com/r/test/comments/xyz/title/?utm_source=x",
		"https://stackoverflow.com/questions/123/how-do-i",
		"https://example.com/post?b=2&a=1&utm_campaign=spring#top",
	}
	for _, input := range inputs {
		first, err := Normalize(input)
		if err != nil {
			t.Fatalf("normalize %q: %v", input, err)
		}
		second, err := Normalize(first.CanonicalURL)
		if err != nil {
			t.Fatalf("renormalize %q: %v", first.CanonicalURL, err)
		}
		if first != second {
			t.Fatalf("normalize not idempotent for %q: %+v vs %+v", input, first, second)
		}
	}
}

func TestStripTrackingQueryPreservesPairs(t *testing.T) {
	testCases := []struct {
		rawQuery string
		want     string
	}{
		{rawQuery: "", want: ""},
		{rawQuery: "q=go+lang&page=2", want: "q=go+lang&page=2"},
		{rawQuery: "z=1&y=2&x=3", want: "z=1&y=2&x=3"},
		{rawQuery: "tag=a&tag=b&utm_term=t", want: "tag=a&tag=b"},
		{rawQuery: "utm%5Fsource=x&id=7", want: "id=7"},
		{rawQuery: "flag&&fbclid=abc&next=%2Fhome", want: "flag&next=%2Fhome"},
		{rawQuery: "utm_sourcex=1", want: "utm_sourcex=1"},
	}
	for _, testCase := range testCases {
		if got := stripTrackingQuery(testCase.rawQuery); got != testCase.want {
			t.Fatalf("stripTrackingQuery(%q) = %q, want %q", testCase.rawQuery, got, testCase.want)
		}
	}
}

func TestNormalizeEquivalentTrackingVariantsCollapse(t *testing.T) {
	variants := []string{
		"https://example.com/article?id=1",
		"https://example.com/article?id=1&utm_source=twitter",
		"https://example.com/article?utm_medium=social&id=1#comments",
	}
	var canonical string
	for _, variant := range variants {
		result, err := Normalize(variant)
		if err != nil {
			t.Fatalf("normalize %q: %v", variant, err)
		}
		if canonical == "" {
			canonical = result.CanonicalURL
			continue
		}
		if result.CanonicalURL != canonical {
			t.Fatalf("expected %q, got %q for %q", canonical, result.CanonicalURL, variant)
		}
	}
}

func TestNormalizeRejectsRelativeInput(t *testing.T) {
	for _, input := range []string{"", "   ", "not a url", "/relative/path", "example.com/no-scheme"} {
		if _, err := Normalize(input); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL for %q, got %v", input, err)
		}
	}
}

func TestIsSafe(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		wantSafe   bool
		wantReason SafetyReason
	}{
		{name: "allowed-youtube", input: "https://www.youtube.com/watch?v=abc", wantSafe: true},
		{name: "allowed-subdomain", input: "https://meta.stackexchange.com/questions/1", wantSafe: true},
		{name: "allowed-old-reddit", input: "https://old.reddit.com/r/golang", wantSafe: true},
		{name: "javascript-scheme", input: "javascript:alert(1)", wantReason: ReasonUnsafeProtocol},
		{name: "ftp-scheme", input: "ftp://reddit.com/file", wantReason: ReasonUnsafeProtocol},
		{name: "domain-not-allowed", input: "https://example.com/page", wantReason: ReasonDomainNotAllowed},
		{name: "lookalike-domain", input: "https://evilreddit.com/r/x", wantReason: ReasonDomainNotAllowed},
		{name: "executable", input: "https://www.reddit.com/r/x/payload.EXE", wantReason: ReasonSuspiciousPattern},
		{name: "archive", input: "https://stackoverflow.com/files/dump.zip", wantReason: ReasonSuspiciousPattern},
		{name: "embedded-data-uri", input: "https://www.reddit.com/r/x?next=data:text/html,hi", wantReason: ReasonSuspiciousPattern},
		{name: "embedded-javascript", input: "https://www.reddit.com/r/x?next=javascript:alert(1)", wantReason: ReasonSuspiciousPattern},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			verdict := IsSafe(testCase.input, testAllowedDomains)
			if verdict.Safe != testCase.wantSafe {
				t.Fatalf("safe mismatch: got %v want %v (reason %s)", verdict.Safe, testCase.wantSafe, verdict.Reason)
			}
			if verdict.Reason != testCase.wantReason {
				t.Fatalf("reason mismatch: got %q want %q", verdict.Reason, testCase.wantReason)
			}
		})
	}
}

func TestIsSafeRejectsJavascriptRegardlessOfAllowList(t *testing.T) {
	allowLists := [][]string{
		nil,
		{"alert(1)"},
		{"javascript"},
		testAllowedDomains,
	}
	for _, allowList := range allowLists {
		verdict := IsSafe("javascript:alert(1)", allowList)
		if verdict.Safe {
			t.Fatalf("javascript scheme accepted with allow list %v", allowList)
		}
	}
}

func TestSafetyReasonMessages(t *testing.T) {
	if ReasonDomainNotAllowed.Message() != "Domain not in allowlist" {
		t.Fatalf("unexpected message %q", ReasonDomainNotAllowed.Message())
	}
	if ReasonUnsafeProtocol.Message() != "Unsafe protocol" {
		t.Fatalf("unexpected message %q", ReasonUnsafeProtocol.Message())
	}
}
