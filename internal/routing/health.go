package routing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/clock"
)

// HealthState is the advisory availability of a provider.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthConfig controls probe cadence and classification.
type HealthConfig struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	UnhealthyAfter int
}

// DefaultHealthConfig probes every 30s with a 5s timeout and marks a provider
// unhealthy after three consecutive failures.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   5 * time.Second,
		UnhealthyAfter: 3,
	}
}

func (c HealthConfig) withDefaults() HealthConfig {
	d := DefaultHealthConfig()
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.UnhealthyAfter <= 0 {
		c.UnhealthyAfter = d.UnhealthyAfter
	}
	return c
}

// HealthStatus is the latest probe outcome for one provider.
type HealthStatus struct {
	ProviderID          string        `json:"provider_id"`
	Status              HealthState   `json:"-"`
	State               string        `json:"state"`
	LastProbeAt         time.Time     `json:"last_probe_at,omitempty"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

// ProbeFunc checks one provider.
type ProbeFunc func(ctx context.Context) error

// HealthObserver is notified after every probe.
type HealthObserver func(status HealthStatus)

// HealthMonitor periodically probes registered providers. Its verdicts are
// advisory: the router skips unhealthy providers but never blocks on probes.
type HealthMonitor struct {
	cfg      HealthConfig
	clock    clock.Clock
	logger   *zap.Logger
	observer HealthObserver

	mu       sync.RWMutex
	probes   map[string]ProbeFunc
	statuses map[string]HealthStatus

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// HealthOption customizes a HealthMonitor.
type HealthOption func(*HealthMonitor)

// WithHealthClock sets the time source used for probe timestamps.
func WithHealthClock(c clock.Clock) HealthOption {
	return func(m *HealthMonitor) { m.clock = c }
}

// WithHealthLogger sets the logger.
func WithHealthLogger(l *zap.Logger) HealthOption {
	return func(m *HealthMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHealthObserver registers a callback run after each probe.
func WithHealthObserver(fn HealthObserver) HealthOption {
	return func(m *HealthMonitor) { m.observer = fn }
}

// NewHealthMonitor creates a monitor with no targets.
func NewHealthMonitor(cfg HealthConfig, opts ...HealthOption) *HealthMonitor {
	m := &HealthMonitor{
		cfg:      cfg.withDefaults(),
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		probes:   make(map[string]ProbeFunc),
		statuses: make(map[string]HealthStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a probe target. Registering an existing id replaces its probe.
func (m *HealthMonitor) Register(providerID string, probe ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[providerID] = probe
	if _, ok := m.statuses[providerID]; !ok {
		m.statuses[providerID] = HealthStatus{ProviderID: providerID, Status: HealthUnknown, State: HealthUnknown.String()}
	}
}

// Probe runs one probe for providerID and records the outcome.
func (m *HealthMonitor) Probe(ctx context.Context, providerID string) HealthStatus {
	m.mu.RLock()
	probe, ok := m.probes[providerID]
	m.mu.RUnlock()
	if !ok {
		return HealthStatus{ProviderID: providerID, Status: HealthUnknown, State: HealthUnknown.String()}
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := m.clock.Now()
	done := make(chan error, 1)
	go func() { done <- probe(pctx) }()

	var err error
	timedOut := false
	select {
	case err = <-done:
		if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			timedOut = true
		}
	case <-pctx.Done():
		if ctx.Err() != nil {
			// Caller gave up; do not judge the provider.
			return m.Status(providerID)
		}
		err = context.DeadlineExceeded
		timedOut = true
	}

	return m.record(providerID, m.clock.Now().Sub(start), err, timedOut)
}

// Record folds an externally observed probe outcome into the status.
func (m *HealthMonitor) Record(providerID string, latency time.Duration, err error) HealthStatus {
	return m.record(providerID, latency, err, errors.Is(err, context.DeadlineExceeded))
}

func (m *HealthMonitor) record(providerID string, latency time.Duration, err error, timedOut bool) HealthStatus {
	m.mu.Lock()
	st := m.statuses[providerID]
	st.ProviderID = providerID
	st.LastProbeAt = m.clock.Now()
	st.LastLatency = latency

	switch {
	case err == nil:
		st.Status = HealthHealthy
		st.ConsecutiveFailures = 0
		st.LastError = ""
	case timedOut:
		st.Status = HealthUnhealthy
		st.ConsecutiveFailures++
		st.LastError = "probe timed out"
	default:
		st.ConsecutiveFailures++
		st.LastError = err.Error()
		if st.ConsecutiveFailures >= m.cfg.UnhealthyAfter {
			st.Status = HealthUnhealthy
		} else {
			st.Status = HealthDegraded
		}
	}
	st.State = st.Status.String()
	m.statuses[providerID] = st
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("health probe failed",
			zap.String("provider", providerID),
			zap.String("status", st.State),
			zap.Int("consecutive_failures", st.ConsecutiveFailures),
			zap.Error(err))
	}
	if m.observer != nil {
		m.observer(st)
	}
	return st
}

// ProbeAll runs one probe round for every target concurrently.
func (m *HealthMonitor) ProbeAll(ctx context.Context) []HealthStatus {
	ids := m.ids()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Probe(ctx, id)
		}(id)
	}
	wg.Wait()
	return m.Snapshot()
}

// Start probes every target immediately and then on each interval until Stop
// is called or ctx ends.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	for _, id := range m.ids() {
		m.wg.Add(1)
		go m.loop(ctx, id)
	}
}

func (m *HealthMonitor) loop(ctx context.Context, providerID string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.Probe(ctx, providerID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx, providerID)
		}
	}
}

// Stop halts periodic probing and waits for in-flight probes.
func (m *HealthMonitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.running = false
}

// Status returns the latest status for providerID.
func (m *HealthMonitor) Status(providerID string) HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[providerID]
	if !ok {
		return HealthStatus{ProviderID: providerID, Status: HealthUnknown, State: HealthUnknown.String()}
	}
	return st
}

// IsUnhealthy reports whether the router should skip providerID.
func (m *HealthMonitor) IsUnhealthy(providerID string) bool {
	return m.Status(providerID).Status == HealthUnhealthy
}

// Snapshot returns all statuses ordered by provider id.
func (m *HealthMonitor) Snapshot() []HealthStatus {
	m.mu.RLock()
	out := make([]HealthStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

func (m *HealthMonitor) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.probes))
	for id := range m.probes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
