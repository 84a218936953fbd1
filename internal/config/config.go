package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/textube/backend/internal/ingest"
	"github.com/textube/backend/internal/posts"
	"github.com/textube/backend/internal/scheduler"
	"github.com/textube/backend/internal/urlnorm"
)

const (
	envPrefix                   = "TEXTUBE"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "textube.db"
	defaultLogLevel             = "info"
	defaultAuthIssuer           = "textube"
	defaultUserHeader           = "X-User-Id"
	defaultSourcesHTTPTimeout   = 30 * time.Second
	defaultSourcesUserAgent     = "textube-bot/1.0"
	defaultSourcesRatePerSecond = 2.0
)

// AppConfig captures runtime configuration for the API server and workers.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	AuthSigningSecret string
	AuthIssuer        string
	AuthUserHeader    string

	AllowedDomains []string

	SourcesHTTPTimeout   time.Duration
	SourcesUserAgent     string
	SourcesRatePerSecond float64
	YouTubeAPIKey        string
	YouTubeBaseURL       string
	RedditBaseURL        string
	StackOverflowBaseURL string

	SweepInterval    time.Duration
	BatchLimit       int
	IngestWorkers    int
	IngestQueueSize  int
	IngestJobTimeout time.Duration

	RankWeights posts.Weights
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.user_header", defaultUserHeader)

	configViper.SetDefault("links.allowed_domains", urlnorm.DefaultAllowedDomains())

	configViper.SetDefault("sources.http_timeout", defaultSourcesHTTPTimeout)
	configViper.SetDefault("sources.user_agent", defaultSourcesUserAgent)
	configViper.SetDefault("sources.rate_per_second", defaultSourcesRatePerSecond)
	configViper.SetDefault("sources.youtube.api_key", "")
	configViper.SetDefault("sources.youtube.base_url", "")
	configViper.SetDefault("sources.reddit.base_url", "")
	configViper.SetDefault("sources.stackoverflow.base_url", "")

	configViper.SetDefault("ingest.sweep_interval", scheduler.DefaultInterval)
	configViper.SetDefault("ingest.batch_limit", ingest.DefaultBatchLimit)
	configViper.SetDefault("ingest.workers", ingest.DefaultWorkers)
	configViper.SetDefault("ingest.queue_size", ingest.DefaultQueueSize)
	configViper.SetDefault("ingest.job_timeout", ingest.DefaultJobTimeout)

	weights := posts.DefaultWeights()
	configViper.SetDefault("rank.weights.view", weights.View)
	configViper.SetDefault("rank.weights.attempt", weights.Attempt)
	configViper.SetDefault("rank.weights.comment", weights.Comment)
	configViper.SetDefault("rank.weights.external_upvote", weights.ExternalUpvote)
	configViper.SetDefault("rank.weights.external_view", weights.ExternalView)
	configViper.SetDefault("rank.weights.recency", weights.Recency)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthUserHeader:    configViper.GetString("auth.user_header"),

		AllowedDomains: cleanList(configViper.GetStringSlice("links.allowed_domains")),

		SourcesHTTPTimeout:   configViper.GetDuration("sources.http_timeout"),
		SourcesUserAgent:     configViper.GetString("sources.user_agent"),
		SourcesRatePerSecond: configViper.GetFloat64("sources.rate_per_second"),
		YouTubeAPIKey:        configViper.GetString("sources.youtube.api_key"),
		YouTubeBaseURL:       configViper.GetString("sources.youtube.base_url"),
		RedditBaseURL:        configViper.GetString("sources.reddit.base_url"),
		StackOverflowBaseURL: configViper.GetString("sources.stackoverflow.base_url"),

		SweepInterval:    configViper.GetDuration("ingest.sweep_interval"),
		BatchLimit:       configViper.GetInt("ingest.batch_limit"),
		IngestWorkers:    configViper.GetInt("ingest.workers"),
		IngestQueueSize:  configViper.GetInt("ingest.queue_size"),
		IngestJobTimeout: configViper.GetDuration("ingest.job_timeout"),

		RankWeights: posts.Weights{
			View:           configViper.GetFloat64("rank.weights.view"),
			Attempt:        configViper.GetFloat64("rank.weights.attempt"),
			Comment:        configViper.GetFloat64("rank.weights.comment"),
			ExternalUpvote: configViper.GetFloat64("rank.weights.external_upvote"),
			ExternalView:   configViper.GetFloat64("rank.weights.external_view"),
			Recency:        configViper.GetFloat64("rank.weights.recency"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.AllowedDomains) == 0 {
		return fmt.Errorf("links.allowed_domains must not be empty")
	}
	if strings.TrimSpace(c.AuthUserHeader) == "" {
		return fmt.Errorf("auth.user_header is required")
	}
	if strings.TrimSpace(c.AuthSigningSecret) != "" && strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required when auth.signing_secret is set")
	}
	if c.SourcesRatePerSecond < 0 {
		return fmt.Errorf("sources.rate_per_second must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("ingest.sweep_interval must be positive")
	}
	return nil
}

// cleanList accepts both list values and comma-separated env strings.
func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				cleaned = append(cleaned, part)
			}
		}
	}
	return cleaned
}
