package routing

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dshills/codecontext/internal/clock"
)

// ErrCircuitOpen is returned without performing I/O when a provider's breaker
// rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerStatus is the position of a breaker in its state machine.
type BreakerStatus int

const (
	StatusClosed BreakerStatus = iota
	StatusOpen
	StatusHalfOpen
)

func (s BreakerStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a breaker opens and how it recovers.
type BreakerConfig struct {
	FailureThreshold   int
	CooldownDuration   time.Duration
	HalfOpenTrialCount int
}

// DefaultBreakerConfig opens after 5 consecutive failures for 30 seconds and
// admits a single trial call afterwards.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		CooldownDuration:   30 * time.Second,
		HalfOpenTrialCount: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = d.CooldownDuration
	}
	if c.HalfOpenTrialCount <= 0 {
		c.HalfOpenTrialCount = d.HalfOpenTrialCount
	}
	return c
}

// breakerState is immutable once published; every transition installs a new
// value with a higher version.
type breakerState struct {
	status              BreakerStatus
	consecutiveFailures int
	openedAt            time.Time
	halfOpenTrials      int
	version             uint64
}

// BreakerSnapshot is a point-in-time copy of a breaker for diagnostics.
type BreakerSnapshot struct {
	ProviderID          string        `json:"provider_id"`
	Status              BreakerStatus `json:"-"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at,omitempty"`
	HalfOpenTrials      int           `json:"half_open_trials"`
	Version             uint64        `json:"version"`

	TotalRequests uint64 `json:"total_requests"`
	Successes     uint64 `json:"successes"`
	Failures      uint64 `json:"failures"`
	Rejections    uint64 `json:"rejections"`
	Opened        uint64 `json:"opened"`
	Closed        uint64 `json:"closed"`
}

// TransitionFunc observes breaker state changes.
type TransitionFunc func(providerID string, from, to BreakerStatus)

// CircuitBreaker tracks consecutive failures for one provider. All state
// changes are compare-and-swap on an immutable snapshot, so concurrent
// outcomes never lose updates and each transition happens exactly once.
type CircuitBreaker struct {
	id           string
	cfg          BreakerConfig
	clock        clock.Clock
	state        atomic.Pointer[breakerState]
	onTransition TransitionFunc

	requests   atomic.Uint64
	successes  atomic.Uint64
	failures   atomic.Uint64
	rejections atomic.Uint64
	opened     atomic.Uint64
	closed     atomic.Uint64
}

// NewCircuitBreaker creates a closed breaker for providerID.
func NewCircuitBreaker(providerID string, cfg BreakerConfig, clk clock.Clock, onTransition TransitionFunc) *CircuitBreaker {
	cb := &CircuitBreaker{
		id:           providerID,
		cfg:          cfg.withDefaults(),
		clock:        clock.OrReal(clk),
		onTransition: onTransition,
	}
	cb.state.Store(&breakerState{status: StatusClosed})
	return cb
}

func (cb *CircuitBreaker) publish(old, next *breakerState) bool {
	next.version = old.version + 1
	if !cb.state.CompareAndSwap(old, next) {
		return false
	}
	if old.status != next.status {
		switch next.status {
		case StatusOpen:
			cb.opened.Add(1)
		case StatusClosed:
			cb.closed.Add(1)
		}
		if cb.onTransition != nil {
			cb.onTransition(cb.id, old.status, next.status)
		}
	}
	return true
}

// Acquire admits or rejects a call. An admitted call must be followed by
// exactly one of RecordSuccess, RecordFailure or Release.
func (cb *CircuitBreaker) Acquire() error {
	for {
		s := cb.state.Load()
		switch s.status {
		case StatusClosed:
			cb.requests.Add(1)
			return nil

		case StatusOpen:
			if cb.clock.Now().Sub(s.openedAt) < cb.cfg.CooldownDuration {
				cb.rejections.Add(1)
				return ErrCircuitOpen
			}
			next := &breakerState{
				status:              StatusHalfOpen,
				consecutiveFailures: s.consecutiveFailures,
				openedAt:            s.openedAt,
				halfOpenTrials:      1,
			}
			if cb.publish(s, next) {
				cb.requests.Add(1)
				return nil
			}

		case StatusHalfOpen:
			if s.halfOpenTrials >= cb.cfg.HalfOpenTrialCount {
				cb.rejections.Add(1)
				return ErrCircuitOpen
			}
			next := *s
			next.halfOpenTrials++
			if cb.publish(s, &next) {
				cb.requests.Add(1)
				return nil
			}
		}
	}
}

// RecordSuccess closes a half-open breaker and resets the failure count of a
// closed one. A late success arriving after the breaker opened is ignored.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.successes.Add(1)
	for {
		s := cb.state.Load()
		if s.status == StatusOpen {
			return
		}
		if s.status == StatusClosed && s.consecutiveFailures == 0 {
			return
		}
		if cb.publish(s, &breakerState{status: StatusClosed}) {
			return
		}
	}
}

// RecordFailure counts a failed call. Reaching the threshold while closed, or
// any failure while half-open, opens the breaker with a fresh opened-at time.
func (cb *CircuitBreaker) RecordFailure() {
	cb.failures.Add(1)
	for {
		s := cb.state.Load()
		var next *breakerState
		switch s.status {
		case StatusOpen:
			return
		case StatusClosed:
			failures := s.consecutiveFailures + 1
			if failures >= cb.cfg.FailureThreshold {
				next = &breakerState{status: StatusOpen, consecutiveFailures: failures, openedAt: cb.clock.Now()}
			} else {
				next = &breakerState{status: StatusClosed, consecutiveFailures: failures}
			}
		case StatusHalfOpen:
			next = &breakerState{status: StatusOpen, consecutiveFailures: s.consecutiveFailures + 1, openedAt: cb.clock.Now()}
		}
		if cb.publish(s, next) {
			return
		}
	}
}

// Release returns an admitted call's slot without counting an outcome, for
// calls that ended for reasons unrelated to provider health.
func (cb *CircuitBreaker) Release() {
	for {
		s := cb.state.Load()
		if s.status != StatusHalfOpen || s.halfOpenTrials == 0 {
			return
		}
		next := *s
		next.halfOpenTrials--
		if cb.publish(s, &next) {
			return
		}
	}
}

// Available reports, without changing state, whether Acquire would currently
// admit a call.
func (cb *CircuitBreaker) Available() bool {
	s := cb.state.Load()
	switch s.status {
	case StatusOpen:
		return cb.clock.Now().Sub(s.openedAt) >= cb.cfg.CooldownDuration
	case StatusHalfOpen:
		return s.halfOpenTrials < cb.cfg.HalfOpenTrialCount
	default:
		return true
	}
}

// State returns the current status.
func (cb *CircuitBreaker) State() BreakerStatus {
	return cb.state.Load().status
}

// Snapshot copies the breaker's state and counters.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	s := cb.state.Load()
	return BreakerSnapshot{
		ProviderID:          cb.id,
		Status:              s.status,
		State:               s.status.String(),
		ConsecutiveFailures: s.consecutiveFailures,
		OpenedAt:            s.openedAt,
		HalfOpenTrials:      s.halfOpenTrials,
		Version:             s.version,
		TotalRequests:       cb.requests.Load(),
		Successes:           cb.successes.Load(),
		Failures:            cb.failures.Load(),
		Rejections:          cb.rejections.Load(),
		Opened:              cb.opened.Load(),
		Closed:              cb.closed.Load(),
	}
}
