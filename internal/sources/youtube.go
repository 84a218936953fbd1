package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/textube/backend/internal/urlnorm"
)

const defaultYouTubeBaseURL = "https://www.googleapis.com"

// YouTubeConfig configures the YouTube Data API adapter.
type YouTubeConfig struct {
	ClientConfig
	APIKey  string
	BaseURL string
}

// YouTube fetches video metadata from the YouTube Data API v3.
type YouTube struct {
	client  *apiClient
	apiKey  string
	baseURL string
}

// NewYouTube creates a YouTube adapter.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTube{
		client:  newAPIClient(cfg.ClientConfig),
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
	}
}

func (y *YouTube) SourceType() urlnorm.SourceType { return urlnorm.SourceYouTube }

func (y *YouTube) ExtractExternalID(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(parsed.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		videoID := parsed.Query().Get("v")
		return videoID, videoID != ""
	case "youtu.be":
		videoID := strings.Trim(parsed.Path, "/")
		if index := strings.Index(videoID, "/"); index >= 0 {
			videoID = videoID[:index]
		}
		return videoID, videoID != ""
	}
	return "", false
}

func (y *YouTube) FetchContent(ctx context.Context, rawURL string) (FetchedContent, error) {
	videoID, ok := y.ExtractExternalID(rawURL)
	if !ok {
		return FetchedContent{}, fmt.Errorf("%w: no youtube video id in %q", ErrInvalidSource, rawURL)
	}

	params := url.Values{}
	params.Set("id", videoID)
	params.Set("part", "snippet,statistics,contentDetails")
	if y.apiKey != "" {
		params.Set("key", y.apiKey)
	}

	var result ytVideoListResponse
	if err := y.client.getJSON(ctx, y.baseURL+"/youtube/v3/videos?"+params.Encode(), &result); err != nil {
		return FetchedContent{}, fmt.Errorf("fetch youtube video %s: %w", videoID, err)
	}
	if len(result.Items) == 0 {
		return FetchedContent{}, fmt.Errorf("%w: youtube video %s", ErrContentNotFound, videoID)
	}

	video := result.Items[0]
	tags := video.Snippet.Tags
	if tags == nil {
		tags = []string{}
	}

	return FetchedContent{
		Title: video.Snippet.Title,
		Body:  video.Snippet.Description,
		Metadata: map[string]any{
			"channelId":    video.Snippet.ChannelID,
			"channelTitle": video.Snippet.ChannelTitle,
			"publishedAt":  video.Snippet.PublishedAt,
			"tags":         tags,
			"categoryId":   video.Snippet.CategoryID,
			"duration":     video.ContentDetails.Duration,
		},
		Engagement: EngagementSignals{
			Views:    video.Statistics.ViewCount.ptr(),
			Likes:    video.Statistics.LikeCount.ptr(),
			Comments: video.Statistics.CommentCount.ptr(),
		},
	}, nil
}

type ytVideoListResponse struct {
	Items []ytVideo `json:"items"`
}

type ytVideo struct {
	ID             string           `json:"id"`
	Snippet        ytSnippet        `json:"snippet"`
	Statistics     ytStatistics     `json:"statistics"`
	ContentDetails ytContentDetails `json:"contentDetails"`
}

type ytSnippet struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	ChannelID    string   `json:"channelId"`
	ChannelTitle string   `json:"channelTitle"`
	PublishedAt  string   `json:"publishedAt"`
	Tags         []string `json:"tags"`
	CategoryID   string   `json:"categoryId"`
}

type ytStatistics struct {
	ViewCount    flexInt `json:"viewCount"`
	LikeCount    flexInt `json:"likeCount"`
	CommentCount flexInt `json:"commentCount"`
}

type ytContentDetails struct {
	Duration string `json:"duration"`
}
