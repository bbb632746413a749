package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/dshills/codecontext/pkg/types"
)

// LocalProvider produces deterministic embeddings without any network access
// by hashing word and identifier tokens into a fixed number of buckets. Texts
// that share vocabulary end up with similar vectors, which is enough for
// offline use and tests.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local embedder. dim <= 0 selects LocalDimension.
func NewLocalProvider(dim int) *LocalProvider {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalProvider{dimension: dim}
}

func (l *LocalProvider) Dimensions() int { return l.dimension }

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateText(ProviderLocal, text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, l.dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dimension))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	types.Normalize(vec)
	return vec, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(ProviderLocal, texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (l *LocalProvider) Ping(context.Context) error { return nil }

// tokenize lowercases text and splits it on non-identifier characters and
// camelCase boundaries.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	var out []string
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
		for _, part := range splitCamel(f) {
			if len(part) > 1 && !strings.EqualFold(part, f) {
				out = append(out, strings.ToLower(part))
			}
		}
	}
	return out
}

func splitCamel(s string) []string {
	var parts []string
	start := 0
	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
