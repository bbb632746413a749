package routing

import (
	"fmt"
	"sync/atomic"

	"github.com/dshills/codecontext/internal/provider"
)

// Strategy orders eligible providers for a call.
type Strategy string

const (
	// StrategyPriority always tries providers in ascending priority.
	StrategyPriority Strategy = "priority"
	// StrategyRoundRobin rotates the starting provider among candidates that
	// share a priority, one step per call. Lower priorities still come first.
	StrategyRoundRobin Strategy = "round_robin"
)

// ParseStrategy validates a strategy name. Empty selects StrategyPriority.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyPriority:
		return StrategyPriority, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	}
	return "", fmt.Errorf("unknown routing strategy %q", s)
}

// rotateTiers rotates each run of equal-priority descriptors by n. descs must
// be sorted by priority. The first skip entries are left in place.
func rotateTiers(descs []provider.Descriptor, skip int, n uint64) []provider.Descriptor {
	out := make([]provider.Descriptor, len(descs))
	copy(out, descs)
	for start := skip; start < len(out); {
		end := start + 1
		for end < len(out) && out[end].Priority == out[start].Priority {
			end++
		}
		if size := end - start; size > 1 {
			k := int(n % uint64(size))
			tier := append(append([]provider.Descriptor{}, descs[start+k:end]...), descs[start:start+k]...)
			copy(out[start:end], tier)
		}
		start = end
	}
	return out
}

// order returns the candidates for one call under the configured strategy.
func (r *Router) order(capability provider.Capability) []provider.Descriptor {
	candidates := r.Candidates(capability)
	if r.strategy != StrategyRoundRobin || len(candidates) < 2 {
		return candidates
	}

	skip := 0
	r.mu.RLock()
	preferred, ok := r.overrides[capability]
	r.mu.RUnlock()
	if ok && candidates[0].Name == preferred {
		skip = 1
	}
	return rotateTiers(candidates, skip, r.turn(capability))
}

func (r *Router) turn(capability provider.Capability) uint64 {
	r.mu.RLock()
	c, ok := r.turns[capability]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if c, ok = r.turns[capability]; !ok {
			c = new(atomic.Uint64)
			r.turns[capability] = c
		}
		r.mu.Unlock()
	}
	return c.Add(1) - 1
}
