package searcher

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/pkg/types"
)

// Normalization selects how each branch's raw scores are mapped to [0, 1]
// before fusion.
type Normalization string

const (
	NormMinMax Normalization = "minmax" // (s-min)/(max-min) within the branch
	NormZScore Normalization = "zscore" // logistic of the z-score
	NormRRF    Normalization = "rrf"    // reciprocal rank, scaled so rank 1 is 1.0
)

// rrfK is the Reciprocal Rank Fusion constant.
const rrfK = 60.0

// ParseNormalization validates a normalization name. Empty means minmax.
func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(strings.ToLower(strings.TrimSpace(s))) {
	case "", NormMinMax:
		return NormMinMax, nil
	case NormZScore:
		return NormZScore, nil
	case NormRRF:
		return NormRRF, nil
	default:
		return "", fmt.Errorf("unknown normalization %q", s)
	}
}

// dedupe keeps the highest raw score per ID and returns hits ordered by score
// descending, ties by ID ascending.
func dedupe(hits []provider.Hit) []provider.Hit {
	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.ID]; !ok || h.Score > cur {
			best[h.ID] = h.Score
		}
	}
	out := make([]provider.Hit, 0, len(best))
	for id, score := range best {
		out = append(out, provider.Hit{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// normalize maps a deduplicated, sorted branch to scores in [0, 1].
// A branch with a single hit or with all scores equal normalizes to 1.0.
func normalize(hits []provider.Hit, method Normalization) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	switch method {
	case NormRRF:
		for i, h := range hits {
			out[h.ID] = (rrfK + 1) / (rrfK + float64(i+1))
		}
		return out

	case NormZScore:
		var sum float64
		for _, h := range hits {
			sum += h.Score
		}
		mean := sum / float64(len(hits))
		var variance float64
		for _, h := range hits {
			variance += (h.Score - mean) * (h.Score - mean)
		}
		std := math.Sqrt(variance / float64(len(hits)))
		for _, h := range hits {
			if std == 0 {
				out[h.ID] = 1.0
				continue
			}
			z := (h.Score - mean) / std
			out[h.ID] = 1.0 / (1.0 + math.Exp(-z))
		}
		return out

	default:
		lo, hi := hits[0].Score, hits[0].Score
		for _, h := range hits[1:] {
			lo = math.Min(lo, h.Score)
			hi = math.Max(hi, h.Score)
		}
		for _, h := range hits {
			if hi == lo {
				out[h.ID] = 1.0
				continue
			}
			out[h.ID] = (h.Score - lo) / (hi - lo)
		}
		return out
	}
}

// Fuse merges the lexical and vector branches into one ranked list.
// composite = alpha*vector + (1-alpha)*lexical, where a chunk missing from a
// branch contributes 0 for it. Results are ordered by composite descending,
// ties by chunk ID ascending, and carry 1-based ranks.
func Fuse(lexical, vector []provider.Hit, alpha float64, method Normalization) []types.SearchResult {
	lexNorm := normalize(dedupe(lexical), method)
	vecNorm := normalize(dedupe(vector), method)

	ids := make(map[string]struct{}, len(lexNorm)+len(vecNorm))
	for id := range lexNorm {
		ids[id] = struct{}{}
	}
	for id := range vecNorm {
		ids[id] = struct{}{}
	}

	results := make([]types.SearchResult, 0, len(ids))
	for id := range ids {
		lex, vec := lexNorm[id], vecNorm[id]
		results = append(results, types.SearchResult{
			ChunkID:        id,
			LexicalScore:   lex,
			VectorScore:    vec,
			CompositeScore: alpha*vec + (1-alpha)*lex,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CompositeScore != results[j].CompositeScore {
			return results[i].CompositeScore > results[j].CompositeScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
