package embedder

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dshills/codecontext/internal/provider"
)

// Environment variables read when an API key is not configured explicitly.
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Option keys understood by the embedding factories.
const (
	OptAPIKey    = "api_key"
	OptBaseURL   = "base_url"
	OptModel     = "model"
	OptDimension = "dimension"
)

// Factory returns the provider factory for an embedding backend name.
func Factory(name string) (provider.Factory, error) {
	switch strings.ToLower(name) {
	case ProviderJina:
		return func(opts provider.Options) (any, error) {
			return NewJinaProvider(opts.Get(OptAPIKey, os.Getenv(EnvJinaAPIKey)), apiOptions(opts)...)
		}, nil
	case ProviderOpenAI:
		return func(opts provider.Options) (any, error) {
			return NewOpenAIProvider(opts.Get(OptAPIKey, os.Getenv(EnvOpenAIAPIKey)), apiOptions(opts)...)
		}, nil
	case ProviderLocal:
		return func(opts provider.Options) (any, error) {
			return NewLocalProvider(dimension(opts)), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, name)
	}
}

func apiOptions(opts provider.Options) []APIOption {
	return []APIOption{
		WithBaseURL(opts.Get(OptBaseURL, "")),
		WithModel(opts.Get(OptModel, "")),
		WithDimension(dimension(opts)),
	}
}

func dimension(opts provider.Options) int {
	d, err := strconv.Atoi(opts.Get(OptDimension, "0"))
	if err != nil {
		return 0
	}
	return d
}

// Registration builds the startup registration for one configured embedder.
func Registration(desc provider.Descriptor) (provider.Registration, error) {
	desc.Capability = provider.CapabilityEmbedding
	f, err := Factory(desc.Name)
	if err != nil {
		return provider.Registration{}, err
	}
	return provider.Registration{Descriptor: desc, Factory: f}, nil
}

// DetectProviders returns the embedders usable with the current environment
// in preference order: API providers whose keys are set, then local.
func DetectProviders() []string {
	var names []string
	if os.Getenv(EnvJinaAPIKey) != "" {
		names = append(names, ProviderJina)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		names = append(names, ProviderOpenAI)
	}
	return append(names, ProviderLocal)
}
