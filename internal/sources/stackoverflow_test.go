package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStackOverflowFetchContentEmbedsAcceptedAnswer(t *testing.T) {
	var answerRequested bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("site") != "stackoverflow" || r.URL.Query().Get("filter") != "withbody" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		switch r.URL.Path {
		case "/2.3/questions/123":
			fmt.Fprint(w, `{"items":[{"question_id":123,"title":"How do I?","body":"<p>Use <code>sync.Once</code>.</p>","tags":["go"],"view_count":900,"score":17,"answer_count":3,"comment_count":2,"accepted_answer_id":456}]}`)
		case "/2.3/answers/456":
			answerRequested = true
			fmt.Fprint(w, `{"items":[{"answer_id":456,"body":"<p>answer</p>","score":30}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	adapter := NewStackOverflow(StackOverflowConfig{BaseURL: server.URL})
	content, err := adapter.FetchContent(context.Background(), "https://stackoverflow.com/questions/123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !answerRequested {
		t.Fatalf("expected accepted answer to be fetched")
	}
	if content.Title != "How do I?" {
		t.Fatalf("unexpected title %q", content.Title)
	}
	if content.Metadata["bodyText"] != "Use sync.Once." {
		t.Fatalf("unexpected body text %q", content.Metadata["bodyText"])
	}
	accepted, ok := content.Metadata["acceptedAnswer"].(map[string]any)
	if !ok {
		t.Fatalf("expected accepted answer metadata, got %T", content.Metadata["acceptedAnswer"])
	}
	if accepted["score"] != int64(30) {
		t.Fatalf("unexpected answer score %v", accepted["score"])
	}
	if content.Engagement.ViewsOrZero() != 900 || content.Engagement.UpvotesOrZero() != 17 {
		t.Fatalf("unexpected engagement %+v", content.Engagement)
	}
	if *content.Engagement.Comments != 2 {
		t.Fatalf("unexpected comment count %d", *content.Engagement.Comments)
	}
}

func TestStackOverflowFetchContentSkipsAnswerWhenNotAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2.3/questions/77" {
			t.Errorf("unexpected request %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"items":[{"question_id":77,"title":"Open question","body":""}]}`)
	}))
	defer server.Close()

	adapter := NewStackOverflow(StackOverflowConfig{BaseURL: server.URL})
	content, err := adapter.FetchContent(context.Background(), "https://stackoverflow.com/questions/77/open")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.Metadata["acceptedAnswer"] != nil {
		t.Fatalf("expected nil accepted answer, got %v", content.Metadata["acceptedAnswer"])
	}
	if content.Engagement.ViewsOrZero() != 0 {
		t.Fatalf("missing view count should be zero")
	}
}

func TestStackOverflowAnswerFailureIsLoggedNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2.3/answers/9" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"items":[{"question_id":5,"title":"q","accepted_answer_id":9}]}`)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewStackOverflow(StackOverflowConfig{
		BaseURL:      server.URL,
		ClientConfig: ClientConfig{Logger: zap.New(core)},
	})
	content, err := adapter.FetchContent(context.Background(), "https://stackoverflow.com/questions/5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.Metadata["acceptedAnswer"] != nil {
		t.Fatalf("expected accepted answer to be omitted")
	}
	if logs.FilterMessage("accepted answer fetch failed").Len() != 1 {
		t.Fatalf("expected one warning log, got %d", logs.Len())
	}
}

func TestStackOverflowFetchContentErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer server.Close()

	adapter := NewStackOverflow(StackOverflowConfig{BaseURL: server.URL})
	if _, err := adapter.FetchContent(context.Background(), "https://stackoverflow.com/questions/1"); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
	if _, err := adapter.FetchContent(context.Background(), "https://stackoverflow.com/tags/go"); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := NewDefaultRegistry(RegistryConfig{})
	for _, sourceType := range []urlnorm.SourceType{urlnorm.SourceYouTube, urlnorm.SourceReddit, urlnorm.SourceStackOverflow} {
		adapter, ok := registry.Get(sourceType)
		if !ok {
			t.Fatalf("expected adapter for %s", sourceType)
		}
		if adapter.SourceType() != sourceType {
			t.Fatalf("adapter registered under wrong type: %s vs %s", adapter.SourceType(), sourceType)
		}
	}
	if _, ok := registry.Get(urlnorm.SourceWeb); ok {
		t.Fatalf("web source must not have an adapter")
	}
	var nilRegistry *Registry
	if _, ok := nilRegistry.Get(urlnorm.SourceYouTube); ok {
		t.Fatalf("nil registry should not return adapters")
	}
}
