package routing

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codecontext/internal/provider"
)

// CostRecord describes the billable units consumed by one successful call.
type CostRecord struct {
	ID         string              `json:"id"`
	ProviderID string              `json:"provider_id"`
	Capability provider.Capability `json:"capability"`
	Operation  string              `json:"operation"`
	Units      int                 `json:"units"`
	Cost       float64             `json:"cost"`
	Timestamp  time.Time           `json:"timestamp"`
}

// CostTotal aggregates the records of one provider.
type CostTotal struct {
	ProviderID string  `json:"provider_id"`
	Requests   int     `json:"requests"`
	Units      int     `json:"units"`
	Cost       float64 `json:"cost"`
}

// CostTracker fans cost records out to an optional consumer channel and keeps
// running totals. Emit never blocks; records are dropped from the channel when
// the consumer falls behind, but totals are always updated.
type CostTracker struct {
	records chan CostRecord
	dropped atomic.Uint64

	mu     sync.Mutex
	totals map[string]*CostTotal
}

// NewCostTracker creates a tracker whose channel buffers up to buffer records.
func NewCostTracker(buffer int) *CostTracker {
	if buffer < 0 {
		buffer = 0
	}
	return &CostTracker{
		records: make(chan CostRecord, buffer),
		totals:  make(map[string]*CostTotal),
	}
}

// Emit records a cost without blocking. It reports whether the record reached
// the channel.
func (t *CostTracker) Emit(rec CostRecord) bool {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	t.mu.Lock()
	total, ok := t.totals[rec.ProviderID]
	if !ok {
		total = &CostTotal{ProviderID: rec.ProviderID}
		t.totals[rec.ProviderID] = total
	}
	total.Requests++
	total.Units += rec.Units
	total.Cost += rec.Cost
	t.mu.Unlock()

	select {
	case t.records <- rec:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// Records exposes emitted records to a consumer.
func (t *CostTracker) Records() <-chan CostRecord { return t.records }

// Dropped returns how many records the channel could not accept.
func (t *CostTracker) Dropped() uint64 { return t.dropped.Load() }

// Summary returns per-provider totals ordered by provider id.
func (t *CostTracker) Summary() []CostTotal {
	t.mu.Lock()
	out := make([]CostTotal, 0, len(t.totals))
	for _, total := range t.totals {
		out = append(out, *total)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}
