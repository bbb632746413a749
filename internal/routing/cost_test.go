package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostTracker_NeverBlocks(t *testing.T) {
	tracker := NewCostTracker(1)

	assert.True(t, tracker.Emit(CostRecord{ProviderID: "embedding/jina", Units: 10, Cost: 0.2}))
	assert.False(t, tracker.Emit(CostRecord{ProviderID: "embedding/jina", Units: 5, Cost: 0.1}))
	assert.False(t, tracker.Emit(CostRecord{ProviderID: "embedding/local", Units: 1}))
	assert.Equal(t, uint64(2), tracker.Dropped())

	summary := tracker.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, "embedding/jina", summary[0].ProviderID)
	assert.Equal(t, 2, summary[0].Requests)
	assert.Equal(t, 15, summary[0].Units)
	assert.InDelta(t, 0.3, summary[0].Cost, 1e-9)

	rec := <-tracker.Records()
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 10, rec.Units)
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5}.withDefaults()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().BaseDelay, cfg.BaseDelay)
	assert.Equal(t, DefaultRetryConfig().AttemptTimeout, cfg.AttemptTimeout)
}
