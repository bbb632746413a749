package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dshills/codecontext/internal/provider"
)

const (
	jinaBaseURL   = "https://api.jina.ai/v1"
	openAIBaseURL = "https://api.openai.com/v1"

	maxErrorBody = 512
)

// APIProvider embeds text through an HTTP embeddings API that accepts
// {"input": [...], "model": "..."} and answers with {"data": [{"embedding",
// "index"}]}. Both Jina and OpenAI speak this format.
type APIProvider struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	httpClient *http.Client
}

// APIOption customizes an APIProvider.
type APIOption func(*APIProvider)

// WithBaseURL overrides the API endpoint root (no trailing /embeddings).
func WithBaseURL(url string) APIOption {
	return func(p *APIProvider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel overrides the default model.
func WithModel(model string) APIOption {
	return func(p *APIProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithDimension overrides the advertised vector size.
func WithDimension(dim int) APIOption {
	return func(p *APIProvider) {
		if dim > 0 {
			p.dimension = dim
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(p *APIProvider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

func newAPIProvider(name, apiKey, model, baseURL string, dim int, opts []APIOption) (*APIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrNoProviderEnabled, name)
	}
	p := &APIProvider{
		name:      name,
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dim,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewJinaProvider creates a Jina AI embedder.
func NewJinaProvider(apiKey string, opts ...APIOption) (*APIProvider, error) {
	return newAPIProvider(ProviderJina, apiKey, DefaultJinaModel, jinaBaseURL, JinaDimension, opts)
}

// NewOpenAIProvider creates an OpenAI embedder.
func NewOpenAIProvider(apiKey string, opts ...APIOption) (*APIProvider, error) {
	return newAPIProvider(ProviderOpenAI, apiKey, DefaultOpenAIModel, openAIBaseURL, OpenAIDimension, opts)
}

func (p *APIProvider) Name() string    { return p.name }
func (p *APIProvider) Model() string   { return p.model }
func (p *APIProvider) Dimensions() int { return p.dimension }

// Embed generates one embedding.
func (p *APIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateText(p.name, text); err != nil {
		return nil, err
	}
	vecs, err := p.callAPI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into requests of at
// most MaxBatchSize.
func (p *APIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(p.name, texts); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(texts))
		vecs, err := p.callAPI(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (p *APIProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return provider.NewError(provider.KindUnavailable, p.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.transportError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return provider.Errorf(provider.KindUnavailable, p.name, "api key rejected (%d)", resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return p.statusError(resp.StatusCode, "")
	}
	return nil
}

func (p *APIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": p.model,
	})
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidInput, p.name, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewError(provider.KindUnavailable, p.name, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.transportError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, p.statusError(resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, provider.NewError(provider.KindInvalidResponse, p.name, fmt.Errorf("decode response: %w", err))
	}
	if len(apiResp.Data) != len(texts) {
		return nil, provider.Errorf(provider.KindInvalidResponse, p.name,
			"expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	sort.Slice(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })
	out := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		if len(d.Embedding) == 0 {
			return nil, provider.Errorf(provider.KindInvalidResponse, p.name, "empty embedding at index %d", d.Index)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *APIProvider) statusError(status int, body string) error {
	err := fmt.Errorf("api error %d: %s", status, strings.TrimSpace(body))
	switch {
	case status == http.StatusTooManyRequests:
		return provider.NewError(provider.KindRateLimited, p.name, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return provider.NewError(provider.KindTimeout, p.name, err)
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
		return provider.NewError(provider.KindInvalidInput, p.name, err)
	default:
		return provider.NewError(provider.KindUnavailable, p.name, err)
	}
}

func (p *APIProvider) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return provider.NewError(provider.KindTimeout, p.name, err)
	}
	return provider.NewError(provider.KindUnavailable, p.name, fmt.Errorf("api call: %w", err))
}

// Close releases idle connections.
func (p *APIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
