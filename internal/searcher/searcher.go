package searcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/cache"
	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/pkg/types"
)

var (
	// ErrPartialFailure is returned when both branches fail with errors.
	ErrPartialFailure = errors.New("search failed on both branches")
	// ErrSearchTimeout is returned when both branches miss the search deadline.
	ErrSearchTimeout = errors.New("search timed out")

	// Request validation errors.
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrInvalidAlpha    = errors.New("alpha must be within [0, 1]")
	ErrUnsupportedMode = errors.New("unsupported search mode")
)

// filteredOverfetch multiplies the vector top-K when filters are set. Vector
// stores ignore filters, so hits are filtered after the query.
const filteredOverfetch = 4

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Lexical + vector, fused
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 text search only
)

// LexicalIndex is the term-based retrieval branch. It also owns chunk
// metadata, so Filter is used to apply search filters to vector hits.
type LexicalIndex interface {
	Query(ctx context.Context, text string, topK int, filters *types.SearchFilters) ([]provider.Hit, error)
	Excerpt(ctx context.Context, id string) (string, error)
	Filter(ctx context.Context, ids []string, filters *types.SearchFilters) (map[string]bool, error)
}

// Locator is implemented by lexical indexes that know where a chunk lives.
type Locator interface {
	Locate(ctx context.Context, id string) (*types.FileInfo, error)
}

// VectorRouter embeds text and queries vector stores, usually a
// *routing.Router.
type VectorRouter interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]provider.Hit, error)
}

// QueryRecorder receives a summary of every executed search.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, text, mode string, results int, degraded bool, duration time.Duration) error
}

// Config holds engine settings. Alpha is used as given; DefaultConfig sets 0.5.
type Config struct {
	Alpha         float64
	DefaultLimit  int
	MaxLimit      int
	TopK          int // per-branch candidates, raised to the limit when smaller
	Timeout       time.Duration
	Collection    string
	Normalization Normalization
	ExcerptLines  int
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Alpha:         0.5,
		DefaultLimit:  10,
		MaxLimit:      100,
		TopK:          50,
		Timeout:       5 * time.Second,
		Collection:    "code",
		Normalization: NormMinMax,
		ExcerptLines:  20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Collection == "" {
		c.Collection = d.Collection
	}
	if c.Normalization == "" {
		c.Normalization = d.Normalization
	}
	if c.ExcerptLines <= 0 {
		c.ExcerptLines = d.ExcerptLines
	}
	return c
}

// Query contains parameters for a search operation
type Query struct {
	Text     string
	Filters  *types.SearchFilters
	Limit    int
	Alpha    *float64 // nil uses the configured alpha
	Mode     SearchMode
	UseCache bool // Whether to use the result cache
}

// Response contains search results and metadata
type Response struct {
	RequestID      string               `json:"request_id"`
	Results        []types.SearchResult `json:"results"`
	Mode           SearchMode           `json:"mode"`
	Alpha          float64              `json:"alpha"`
	Degraded       bool                 `json:"degraded"`
	DegradedReason string               `json:"degraded_reason,omitempty"`
	LexicalHits    int                  `json:"lexical_hits"`
	VectorHits     int                  `json:"vector_hits"`
	Duration       time.Duration        `json:"duration"`
	CacheHit       bool                 `json:"cache_hit"`
}

func (r *Response) clone() *Response {
	cp := *r
	cp.Results = make([]types.SearchResult, len(r.Results))
	for i, res := range r.Results {
		cp.Results[i] = res
		if res.File != nil {
			f := *res.File
			cp.Results[i].File = &f
		}
	}
	return &cp
}

// degradedResponse carries a degraded response out of a cache computation so
// that it is returned to the caller without being cached.
type degradedResponse struct {
	resp *Response
}

func (d *degradedResponse) Error() string { return "degraded: " + d.resp.DegradedReason }

// Searcher coordinates the lexical and vector branches of a search
type Searcher struct {
	lexical  LexicalIndex
	router   VectorRouter
	cfg      Config
	logger   *zap.Logger
	embeds   *cache.Cache
	results  *cache.Cache
	recorder QueryRecorder
}

// Option customizes a Searcher.
type Option func(*Searcher)

// WithEmbeddingCache memoises query embeddings.
func WithEmbeddingCache(c *cache.Cache) Option {
	return func(s *Searcher) { s.embeds = c }
}

// WithResultCache memoises whole responses for queries with UseCache set.
func WithResultCache(c *cache.Cache) Option {
	return func(s *Searcher) { s.results = c }
}

// WithRecorder sets where executed searches are reported.
func WithRecorder(r QueryRecorder) Option {
	return func(s *Searcher) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher creates a new Searcher instance
func NewSearcher(lexical LexicalIndex, router VectorRouter, cfg Config, opts ...Option) (*Searcher, error) {
	if lexical == nil || router == nil {
		return nil, errors.New("searcher requires a lexical index and a vector router")
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlpha, cfg.Alpha)
	}
	cfg = cfg.withDefaults()
	if _, err := ParseNormalization(string(cfg.Normalization)); err != nil {
		return nil, err
	}

	s := &Searcher{
		lexical: lexical,
		router:  router,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Searcher) Config() Config { return s.cfg }

// Search runs a query. In hybrid mode a failing or slow branch degrades the
// response instead of failing it; only both branches failing is an error.
func (s *Searcher) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	if err := s.validate(&q); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	var (
		resp *Response
		err  error
	)
	if q.UseCache && s.results != nil {
		resp, err = s.cachedSearch(ctx, q)
	} else {
		resp, err = s.search(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	resp.RequestID = uuid.NewString()
	resp.Duration = time.Since(start)

	if resp.Degraded {
		s.logger.Warn("degraded search",
			zap.String("request_id", resp.RequestID),
			zap.String("reason", resp.DegradedReason),
			zap.Int("results", len(resp.Results)))
	}
	if s.recorder != nil {
		if err := s.recorder.RecordQuery(ctx, q.Text, string(q.Mode), len(resp.Results), resp.Degraded, resp.Duration); err != nil {
			s.logger.Debug("failed to record query", zap.Error(err))
		}
	}
	return resp, nil
}

// InvalidateResults drops every cached response. Call it after the corpus
// changes.
func (s *Searcher) InvalidateResults(ctx context.Context) error {
	if s.results == nil {
		return nil
	}
	return s.results.Clear(ctx)
}

func (s *Searcher) validate(q *Query) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return ErrEmptyQuery
	}
	if q.Alpha == nil {
		alpha := s.cfg.Alpha
		q.Alpha = &alpha
	} else if *q.Alpha < 0 || *q.Alpha > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidAlpha, *q.Alpha)
	}
	if q.Limit <= 0 {
		q.Limit = s.cfg.DefaultLimit
	}
	if q.Limit > s.cfg.MaxLimit {
		q.Limit = s.cfg.MaxLimit
	}
	switch q.Mode {
	case "":
		q.Mode = SearchModeHybrid
	case SearchModeHybrid, SearchModeVector, SearchModeKeyword:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, q.Mode)
	}
	return nil
}

func (s *Searcher) cachedSearch(ctx context.Context, q Query) (*Response, error) {
	key := resultKey(q)
	computed := false
	data, err := s.results.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		computed = true
		resp, err := s.search(ctx, q)
		if err != nil {
			return nil, err
		}
		if resp.Degraded {
			return nil, &degradedResponse{resp: resp}
		}
		return json.Marshal(resp)
	})

	var degraded *degradedResponse
	if errors.As(err, &degraded) {
		return degraded.resp.clone(), nil
	}
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	resp.CacheHit = !computed
	return &resp, nil
}

// resultKey fingerprints everything that affects a response.
func resultKey(q Query) string {
	parts := []string{"search", q.Text, string(q.Mode), strconv.Itoa(q.Limit),
		strconv.FormatFloat(*q.Alpha, 'g', -1, 64)}
	if f := q.Filters; !f.IsEmpty() {
		parts = append(parts, f.FilePattern,
			strings.Join(f.Languages, ","), strings.Join(f.ChunkTypes, ","))
	}
	return cache.Fingerprint(parts...)
}

// branch is the outcome of one retrieval branch.
type branch struct {
	hits     []provider.Hit
	err      error
	timedOut bool
}

func (b branch) ok() bool { return b.err == nil && !b.timedOut }

func (s *Searcher) topK(limit int) int {
	if s.cfg.TopK < limit {
		return limit
	}
	return s.cfg.TopK
}

func (s *Searcher) search(parent context.Context, q Query) (*Response, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	topK := s.topK(q.Limit)
	runLexical := q.Mode != SearchModeVector
	runVector := q.Mode != SearchModeKeyword

	lexCh := make(chan branch, 1)
	vecCh := make(chan branch, 1)
	if runLexical {
		go func() {
			hits, err := s.lexical.Query(ctx, q.Text, topK, q.Filters)
			lexCh <- branch{hits: hits, err: err}
		}()
	}
	if runVector {
		go func() {
			hits, err := s.vectorBranch(ctx, q.Text, topK, q.Filters)
			vecCh <- branch{hits: hits, err: err}
		}()
	}

	var lex, vec branch
	lexDone, vecDone := !runLexical, !runVector
wait:
	for !lexDone || !vecDone {
		select {
		case lex = <-lexCh:
			lexDone = true
		case vec = <-vecCh:
			vecDone = true
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return nil, err
			}
			break wait
		}
	}
	if !lexDone {
		lex.timedOut = true
	}
	if !vecDone {
		vec.timedOut = true
	}
	lex.markTimeout()
	vec.markTimeout()

	if err := parent.Err(); err != nil {
		return nil, err
	}

	resp := &Response{Mode: q.Mode, Alpha: *q.Alpha}
	switch q.Mode {
	case SearchModeKeyword:
		if err := singleBranchError("lexical", lex); err != nil {
			return nil, err
		}
	case SearchModeVector:
		if err := singleBranchError("vector", vec); err != nil {
			return nil, err
		}
	default:
		if !lex.ok() && !vec.ok() {
			if lex.timedOut && vec.timedOut {
				return nil, ErrSearchTimeout
			}
			return nil, fmt.Errorf("%w: lexical: %w; vector: %w", ErrPartialFailure, lex.cause(), vec.cause())
		}
		resp.Degraded, resp.DegradedReason = degradation(lex, vec)
	}

	resp.LexicalHits = len(lex.hits)
	resp.VectorHits = len(vec.hits)

	alpha := *q.Alpha
	switch q.Mode {
	case SearchModeKeyword:
		alpha = 0
	case SearchModeVector:
		alpha = 1
	}
	results := Fuse(lex.hits, vec.hits, alpha, s.cfg.Normalization)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	s.hydrate(parent, results)
	resp.Results = results
	return resp, nil
}

// vectorBranch embeds the query, through the embedding cache when set, and
// queries the vector store. Hits outside filters are dropped.
func (s *Searcher) vectorBranch(ctx context.Context, text string, topK int, filters *types.SearchFilters) ([]provider.Hit, error) {
	embed := func(ctx context.Context) ([]float32, error) { return s.router.Embed(ctx, text) }

	var (
		vec []float32
		err error
	)
	if s.embeds != nil {
		vec, err = s.embeds.GetOrComputeVector(ctx, cache.Fingerprint("query-embedding", text), embed)
	} else {
		vec, err = embed(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	if filters.IsEmpty() {
		return s.router.Query(ctx, s.cfg.Collection, vec, topK)
	}

	hits, err := s.router.Query(ctx, s.cfg.Collection, vec, topK*filteredOverfetch)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	matched, err := s.lexical.Filter(ctx, ids, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to filter vector hits: %w", err)
	}
	kept := make([]provider.Hit, 0, len(hits))
	for _, h := range hits {
		if matched[h.ID] {
			kept = append(kept, h)
		}
	}
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept, nil
}

// markTimeout treats a deadline error reported by the branch itself as a
// timeout.
func (b *branch) markTimeout() {
	if b.err != nil && errors.Is(b.err, context.DeadlineExceeded) {
		b.timedOut = true
	}
}

func (b branch) cause() error {
	if b.err != nil {
		return b.err
	}
	if b.timedOut {
		return ErrSearchTimeout
	}
	return nil
}

func singleBranchError(name string, b branch) error {
	if b.timedOut {
		return ErrSearchTimeout
	}
	if b.err != nil {
		return fmt.Errorf("%s search failed: %w", name, b.err)
	}
	return nil
}

// degradation reports whether a hybrid response lost a branch.
func degradation(lex, vec branch) (bool, string) {
	switch {
	case vec.timedOut:
		return true, "vector branch timed out"
	case vec.err != nil:
		return true, "vector branch failed: " + vec.err.Error()
	case lex.timedOut:
		return true, "lexical branch timed out"
	case lex.err != nil:
		return true, "lexical branch failed: " + lex.err.Error()
	case len(vec.hits) == 0 && len(lex.hits) > 0:
		return true, "vector branch returned no results"
	}
	return false, ""
}

// hydrate fills excerpts and locations. Lookup failures leave them empty.
func (s *Searcher) hydrate(ctx context.Context, results []types.SearchResult) {
	locator, _ := s.lexical.(Locator)
	for i := range results {
		id := results[i].ChunkID
		if text, err := s.lexical.Excerpt(ctx, id); err == nil {
			results[i].Excerpt = types.Excerpt(text, s.cfg.ExcerptLines)
		} else {
			s.logger.Debug("excerpt lookup failed", zap.String("chunk_id", id), zap.Error(err))
		}
		if locator != nil {
			if info, err := locator.Locate(ctx, id); err == nil {
				results[i].File = info
			}
		}
	}
}
