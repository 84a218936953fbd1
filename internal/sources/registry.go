package sources

import "github.com/textube/backend/internal/urlnorm"

// Registry is a static lookup table from source type to adapter.
// The web source type has no adapter.
type Registry struct {
	adapters map[urlnorm.SourceType]Adapter
}

// NewRegistry builds a registry from the provided adapters; later entries
// replace earlier ones with the same source type.
func NewRegistry(adapters ...Adapter) *Registry {
	table := make(map[urlnorm.SourceType]Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		table[adapter.SourceType()] = adapter
	}
	return &Registry{adapters: table}
}

// RegistryConfig configures the default adapter set.
type RegistryConfig struct {
	Client               ClientConfig
	YouTubeAPIKey        string
	YouTubeBaseURL       string
	RedditBaseURL        string
	StackOverflowBaseURL string
}

// NewDefaultRegistry wires the YouTube, Reddit and StackOverflow adapters.
func NewDefaultRegistry(cfg RegistryConfig) *Registry {
	return NewRegistry(
		NewYouTube(YouTubeConfig{ClientConfig: cfg.Client, APIKey: cfg.YouTubeAPIKey, BaseURL: cfg.YouTubeBaseURL}),
		NewReddit(RedditConfig{ClientConfig: cfg.Client, BaseURL: cfg.RedditBaseURL}),
		NewStackOverflow(StackOverflowConfig{ClientConfig: cfg.Client, BaseURL: cfg.StackOverflowBaseURL}),
	)
}

// Get returns the adapter registered for sourceType.
func (r *Registry) Get(sourceType urlnorm.SourceType) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[sourceType]
	return adapter, ok
}
