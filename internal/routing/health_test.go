package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_Classification(t *testing.T) {
	m := NewHealthMonitor(HealthConfig{ProbeInterval: time.Hour, ProbeTimeout: time.Second, UnhealthyAfter: 3})

	var fail atomic.Bool
	m.Register("embedding/jina", func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	ctx := context.Background()
	assert.Equal(t, HealthUnknown, m.Status("embedding/jina").Status)

	assert.Equal(t, HealthHealthy, m.Probe(ctx, "embedding/jina").Status)

	fail.Store(true)
	st := m.Probe(ctx, "embedding/jina")
	assert.Equal(t, HealthDegraded, st.Status)
	assert.Equal(t, "503 service unavailable", st.LastError)

	assert.Equal(t, HealthDegraded, m.Probe(ctx, "embedding/jina").Status)
	assert.Equal(t, HealthUnhealthy, m.Probe(ctx, "embedding/jina").Status)
	assert.True(t, m.IsUnhealthy("embedding/jina"))

	fail.Store(false)
	st = m.Probe(ctx, "embedding/jina")
	assert.Equal(t, HealthHealthy, st.Status)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
}

func TestHealthMonitor_TimeoutIsUnhealthy(t *testing.T) {
	m := NewHealthMonitor(HealthConfig{ProbeInterval: time.Hour, ProbeTimeout: 20 * time.Millisecond, UnhealthyAfter: 3})

	release := make(chan struct{})
	defer close(release)
	m.Register("vector_store/remote", func(ctx context.Context) error {
		// Ignores ctx on purpose: the monitor must not wait on it.
		<-release
		return nil
	})

	start := time.Now()
	st := m.Probe(context.Background(), "vector_store/remote")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, HealthUnhealthy, st.Status)
	assert.Equal(t, "probe timed out", st.LastError)
}

func TestHealthMonitor_ProbeAllAndObserver(t *testing.T) {
	var observed atomic.Int32
	m := NewHealthMonitor(DefaultHealthConfig(), WithHealthObserver(func(HealthStatus) { observed.Add(1) }))

	m.Register("embedding/b", func(context.Context) error { return nil })
	m.Register("embedding/a", func(context.Context) error { return errors.New("down") })

	statuses := m.ProbeAll(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, "embedding/a", statuses[0].ProviderID)
	assert.Equal(t, HealthDegraded, statuses[0].Status)
	assert.Equal(t, HealthHealthy, statuses[1].Status)
	assert.Equal(t, int32(2), observed.Load())
}

func TestHealthMonitor_StartStop(t *testing.T) {
	m := NewHealthMonitor(HealthConfig{ProbeInterval: 5 * time.Millisecond, ProbeTimeout: time.Second, UnhealthyAfter: 3})

	var probes atomic.Int32
	m.Register("embedding/local", func(context.Context) error {
		probes.Add(1)
		return nil
	})

	m.Start(context.Background())
	assert.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	m.Stop()

	after := probes.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, probes.Load(), "no probes after Stop")
	assert.Equal(t, HealthHealthy, m.Status("embedding/local").Status)
}

func TestHealthMonitor_Record(t *testing.T) {
	m := NewHealthMonitor(DefaultHealthConfig())

	st := m.Record("vector_store/sqlite", 3*time.Millisecond, context.DeadlineExceeded)
	assert.Equal(t, HealthUnhealthy, st.Status)
	assert.Equal(t, 3*time.Millisecond, st.LastLatency)

	st = m.Record("vector_store/sqlite", time.Millisecond, nil)
	assert.Equal(t, HealthHealthy, st.Status)
}
