// Package provider defines the capability interfaces implemented by external
// services (embedding generation, vector storage) and the registry that maps
// configured provider names to live instances.
package provider

import (
	"context"
	"fmt"
)

// Capability names a kind of external service.
type Capability string

const (
	CapabilityEmbedding   Capability = "embedding"
	CapabilityVectorStore Capability = "vector_store"
)

// ParseCapability converts a configuration string into a Capability.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapabilityEmbedding, CapabilityVectorStore:
		return Capability(s), nil
	case "vectorstore", "vector-store":
		return CapabilityVectorStore, nil
	default:
		return "", fmt.Errorf("unknown capability %q", s)
	}
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Ping(ctx context.Context) error
}

// VectorStore stores vectors in named collections and answers nearest
// neighbour queries.
type VectorStore interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error)
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
}

// Pinger is the health probe surface shared by every capability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Hit is one scored match returned by a vector store or lexical index.
// Higher scores are better; the scale is backend specific.
type Hit struct {
	ID    string
	Score float64
}

// Descriptor is the immutable registration record for a provider.
// A lower Priority value is preferred.
type Descriptor struct {
	Name        string
	Capability  Capability
	Priority    int
	CostPerUnit float64
}

// ID returns the key used for breaker, health and metric state.
func (d Descriptor) ID() string {
	return string(d.Capability) + "/" + d.Name
}

// Options carries provider specific configuration (API keys, URLs, models).
type Options map[string]string

// Get returns the option or def when it is unset.
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Factory builds a provider instance. The returned value must implement the
// capability interface named by the descriptor.
type Factory func(opts Options) (any, error)

// Registration pairs a descriptor with the factory that builds it. Provider
// packages expose slices of these for startup registration.
type Registration struct {
	Descriptor Descriptor
	Factory    Factory
}
