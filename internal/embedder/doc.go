// Package embedder provides the embedding backends that implement
// provider.Embedder.
//
// # Providers
//
//   - jina: Jina AI embeddings API (JINA_API_KEY), 1024 dimensions
//   - openai: OpenAI embeddings API (OPENAI_API_KEY), 1536 dimensions
//   - local: offline feature-hashing embedder, 384 dimensions
//
// The HTTP providers map API status codes onto provider error kinds so the
// router can decide between retrying, failing over and returning:
//
//	429            -> RateLimited (retried)
//	408, 504       -> Timeout (retried)
//	400, 413, 422  -> InvalidInput (returned to the caller)
//	other non-200  -> Unavailable (next provider)
//
// Retries, caching and failover are not done here; they belong to the
// routing and cache packages.
//
// # Registration
//
// Each configured embedder becomes a provider.Registration:
//
//	reg, err := embedder.Registration(provider.Descriptor{Name: "jina", Priority: 1})
//	registry.Register(reg.Descriptor, reg.Factory)
//
// Factories read api_key, base_url, model and dimension from provider.Options.
//
// # Token Counting
//
// CountTokens uses the cl100k_base tiktoken encoding to compute billable
// units for cost tracking.
package embedder
