package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/textube/backend/internal/urlnorm"
)

const (
	defaultRedditBaseURL = "https://www.reddit.com"
	redditTopComments    = 5
)

// RedditConfig configures the Reddit public JSON adapter.
type RedditConfig struct {
	ClientConfig
	BaseURL string
}

// Reddit fetches a post and its top comments from Reddit's public JSON view.
type Reddit struct {
	client  *apiClient
	baseURL string
}

// NewReddit creates a Reddit adapter.
func NewReddit(cfg RedditConfig) *Reddit {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRedditBaseURL
	}
	return &Reddit{
		client:  newAPIClient(cfg.ClientConfig),
		baseURL: baseURL,
	}
}

func (r *Reddit) SourceType() urlnorm.SourceType { return urlnorm.SourceReddit }

func (r *Reddit) ExtractExternalID(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	segments := strings.Split(parsed.Path, "/")
	for index, segment := range segments {
		if segment == "comments" && index+1 < len(segments) && segments[index+1] != "" {
			return segments[index+1], true
		}
	}
	return "", false
}

func (r *Reddit) FetchContent(ctx context.Context, rawURL string) (FetchedContent, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return FetchedContent{}, fmt.Errorf("%w: %q", ErrInvalidSource, rawURL)
	}
	jsonURL := r.baseURL + strings.TrimRight(parsed.EscapedPath(), "/") + ".json"

	var raw json.RawMessage
	if err := r.client.getJSON(ctx, jsonURL, &raw); err != nil {
		return FetchedContent{}, fmt.Errorf("fetch reddit post: %w", err)
	}

	var listings []redditListing
	if err := json.Unmarshal(raw, &listings); err != nil {
		return FetchedContent{}, fmt.Errorf("%w: malformed reddit listing: %v", ErrContentNotFound, err)
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		return FetchedContent{}, fmt.Errorf("%w: reddit post %s", ErrContentNotFound, parsed.Path)
	}

	post := listings[0].Data.Children[0].Data
	var children []redditChild
	if len(listings) > 1 {
		children = listings[1].Data.Children
	}

	return FetchedContent{
		Title: post.Title,
		Body:  post.Selftext,
		Metadata: map[string]any{
			"subreddit":   post.Subreddit,
			"author":      post.Author,
			"created":     post.CreatedUTC,
			"permalink":   post.Permalink,
			"url":         post.URL,
			"isSelfPost":  post.IsSelf,
			"topComments": collectTopComments(children, redditTopComments),
		},
		Engagement: EngagementSignals{
			Upvotes:  post.Ups.ptr(),
			Comments: post.NumComments.ptr(),
		},
	}, nil
}

// RedditComment is a summarized top-level comment stored in post metadata.
type RedditComment struct {
	Author  string  `json:"author"`
	Body    string  `json:"body"`
	Score   int64   `json:"score"`
	Created float64 `json:"created"`
}

func collectTopComments(children []redditChild, limit int) []RedditComment {
	comments := make([]RedditComment, 0, limit)
	for _, child := range children {
		if len(comments) >= limit {
			break
		}
		body := strings.TrimSpace(child.Data.Body)
		if body == "" || strings.Contains(body, "[deleted]") || strings.Contains(body, "[removed]") {
			continue
		}
		comments = append(comments, RedditComment{
			Author:  child.Data.Author,
			Body:    child.Data.Body,
			Score:   int64(child.Data.Score),
			Created: child.Data.CreatedUTC,
		})
	}
	return comments
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Kind string        `json:"kind"`
	Data redditPayload `json:"data"`
}

// redditPayload covers both t3 (post) and t1 (comment) objects.
type redditPayload struct {
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	IsSelf      bool    `json:"is_self"`
	CreatedUTC  float64 `json:"created_utc"`
	Ups         flexInt `json:"ups"`
	NumComments flexInt `json:"num_comments"`
	Body        string  `json:"body"`
	Score       flexInt `json:"score"`
}
