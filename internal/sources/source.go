package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/textube/backend/internal/urlnorm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrInvalidSource indicates no external identifier could be extracted from the URL.
	ErrInvalidSource = errors.New("sources: invalid source url")
	// ErrContentNotFound indicates the upstream API returned no matching item.
	ErrContentNotFound = errors.New("sources: content not found")
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultUserAgent   = "textube-bot/1.0"
	maxResponseBytes   = 8 << 20
)

// EngagementSignals are optional counters reported by the upstream source.
type EngagementSignals struct {
	Likes    *int64 `json:"likes,omitempty"`
	Upvotes  *int64 `json:"upvotes,omitempty"`
	Views    *int64 `json:"views,omitempty"`
	Comments *int64 `json:"comments,omitempty"`
}

// UpvotesOrZero returns the upvote counter, defaulting to zero.
func (s EngagementSignals) UpvotesOrZero() int64 {
	return valueOrZero(s.Upvotes)
}

// ViewsOrZero returns the view counter, defaulting to zero.
func (s EngagementSignals) ViewsOrZero() int64 {
	return valueOrZero(s.Views)
}

// FetchedContent is the structured payload an adapter extracts from a source.
type FetchedContent struct {
	Title      string
	Body       string
	Metadata   map[string]any
	Engagement EngagementSignals
}

// Adapter fetches content for a single source type.
type Adapter interface {
	SourceType() urlnorm.SourceType
	// ExtractExternalID is pure and never touches the network.
	ExtractExternalID(rawURL string) (string, bool)
	FetchContent(ctx context.Context, rawURL string) (FetchedContent, error)
}

// ClientConfig carries the transport settings shared by every adapter.
type ClientConfig struct {
	HTTPClient    *http.Client
	UserAgent     string
	RatePerSecond float64
	Logger        *zap.Logger
}

// apiClient issues paced JSON GET requests against a single upstream API.
type apiClient struct {
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newAPIClient(cfg ClientConfig) *apiClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &apiClient{
		httpClient: httpClient,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

func (c *apiClient) getJSON(ctx context.Context, requestURL string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: upstream status %d", ErrContentNotFound, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// flexInt decodes counters that upstream APIs send as numbers, strings, or not at all.
// Anything unparseable becomes zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = flexInt(value)
		return nil
	}
	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = flexInt(int64(value))
		return nil
	}
	*f = 0
	return nil
}

func (f flexInt) ptr() *int64 {
	value := int64(f)
	return &value
}

func valueOrZero(value *int64) int64 {
	if value == nil {
		return 0
	}
	return *value
}
