// Package registry tracks upstream service instances, their health, and
// the per-instance circuit breakers that guard them.
package registry

import (
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State represents the circuit breaker state of an instance.
type State int

const (
	// StateClosed allows all traffic through.
	StateClosed State = iota

	// StateHalfOpen allows trial traffic through after the open
	// timeout has elapsed.
	StateHalfOpen

	// StateOpen rejects all traffic to the instance.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// metricValue maps a state to its gauge value for metrics export.
func (s State) metricValue() int {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerConfig holds the circuit breaker thresholds applied per instance.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that
	// trips a closed circuit open.
	FailureThreshold int

	// OpenTimeout is how long an open circuit stays open before a
	// trial request is allowed.
	OpenTimeout time.Duration

	// SuccessThreshold is the number of consecutive successes in
	// half-open state required to close the circuit.
	SuccessThreshold int
}

// DefaultBreakerConfig returns the default breaker thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 3,
	}
}

// StateChangeFunc is called when an instance transitions between
// circuit breaker states or changes health. Called outside the
// instance lock.
type StateChangeFunc func(service, instance string, state State, healthy bool)

// Instance is a single upstream server belonging to a service, with
// its own health flag and circuit breaker.
type Instance struct {
	id      string
	service string
	url     *url.URL
	breaker BreakerConfig

	mu                   sync.Mutex
	state                State
	healthy              bool
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	lastTransition       time.Time

	onChange StateChangeFunc
}

// NewInstance creates a healthy, closed-circuit instance for the given
// service and upstream URL.
func NewInstance(service string, target *url.URL, breaker BreakerConfig) *Instance {
	return &Instance{
		id:             uuid.NewString(),
		service:        service,
		url:            target,
		breaker:        breaker,
		state:          StateClosed,
		healthy:        true,
		lastTransition: time.Now(),
	}
}

// ID returns the unique identifier of the instance.
func (i *Instance) ID() string {
	return i.id
}

// Service returns the name of the service this instance belongs to.
func (i *Instance) Service() string {
	return i.service
}

// URL returns the upstream base URL of the instance.
func (i *Instance) URL() *url.URL {
	return i.url
}

// Addr returns the host:port of the instance, used as a stable label.
func (i *Instance) Addr() string {
	return i.url.Host
}

// SetStateChangeFunc installs a callback invoked on state or health
// transitions.
func (i *Instance) SetStateChangeFunc(fn StateChangeFunc) {
	i.mu.Lock()
	i.onChange = fn
	i.mu.Unlock()
}

// RecordSuccess records a successful request against the instance.
// In half-open state enough consecutive successes close the circuit.
// In closed state it resets the failure streak.
func (i *Instance) RecordSuccess() {
	i.mu.Lock()
	notify := false

	switch i.state {
	case StateHalfOpen:
		i.consecutiveSuccesses++
		if i.consecutiveSuccesses >= i.breaker.SuccessThreshold {
			i.transitionLocked(StateClosed)
			i.healthy = true
			notify = true
		}
	case StateClosed:
		i.consecutiveFailures = 0
	}

	state, healthy, fn := i.state, i.healthy, i.onChange
	i.mu.Unlock()

	if notify && fn != nil {
		fn(i.service, i.Addr(), state, healthy)
	}
}

// RecordFailure records a failed request against the instance. A
// failure streak reaching the threshold trips a closed circuit open;
// any failure in half-open state reopens the circuit immediately.
func (i *Instance) RecordFailure() {
	i.mu.Lock()
	notify := false
	i.consecutiveSuccesses = 0

	switch i.state {
	case StateHalfOpen:
		i.trip()
		notify = true
	case StateClosed:
		i.consecutiveFailures++
		if i.consecutiveFailures >= i.breaker.FailureThreshold {
			i.trip()
			notify = true
		}
	case StateOpen:
		i.lastFailure = time.Now()
	}

	state, healthy, fn := i.state, i.healthy, i.onChange
	i.mu.Unlock()

	if notify && fn != nil {
		fn(i.service, i.Addr(), state, healthy)
	}
}

// trip opens the circuit. Caller must hold the lock.
func (i *Instance) trip() {
	i.transitionLocked(StateOpen)
	i.healthy = false
	i.lastFailure = time.Now()
}

// transitionLocked moves to a new state and resets the streak
// counters. Caller must hold the lock.
func (i *Instance) transitionLocked(s State) {
	i.state = s
	i.consecutiveFailures = 0
	i.consecutiveSuccesses = 0
	i.lastTransition = time.Now()
}

// Eligible reports whether the instance may receive traffic at the
// given time. An open circuit whose timeout has elapsed transitions to
// half-open here, so recovery needs no background timer.
func (i *Instance) Eligible(now time.Time) bool {
	i.mu.Lock()
	notify := false

	if i.state == StateOpen && now.Sub(i.lastFailure) >= i.breaker.OpenTimeout {
		i.transitionLocked(StateHalfOpen)
		i.healthy = true
		notify = true
	}

	eligible := i.healthy && i.state != StateOpen
	state, healthy, fn := i.state, i.healthy, i.onChange
	i.mu.Unlock()

	if notify && fn != nil {
		fn(i.service, i.Addr(), state, healthy)
	}

	return eligible
}

// MarkHealthy marks the instance healthy. It does not touch an open
// circuit: only elapsed time or a probe nudge may leave the open state.
func (i *Instance) MarkHealthy() {
	i.mu.Lock()
	notify := !i.healthy && i.state != StateOpen
	if i.state != StateOpen {
		i.healthy = true
	}
	state, healthy, fn := i.state, i.healthy, i.onChange
	i.mu.Unlock()

	if notify && fn != nil {
		fn(i.service, i.Addr(), state, healthy)
	}
}

// MarkUnhealthy marks the instance unhealthy without changing the
// circuit state. Health probes use this so a failing probe does not
// trip a circuit that live traffic still succeeds through.
func (i *Instance) MarkUnhealthy() {
	i.mu.Lock()
	notify := i.healthy
	i.healthy = false
	state, healthy, fn := i.state, i.healthy, i.onChange
	i.mu.Unlock()

	if notify && fn != nil {
		fn(i.service, i.Addr(), state, healthy)
	}
}

// NudgeHalfOpen moves an open circuit to half-open ahead of the open
// timeout. Health probes call this when an instance answers again.
func (i *Instance) NudgeHalfOpen() {
	i.mu.Lock()
	notify := false
	if i.state == StateOpen {
		i.transitionLocked(StateHalfOpen)
		i.healthy = true
		notify = true
	}
	state, healthy, fn := i.state, i.healthy, i.onChange
	i.mu.Unlock()

	if notify && fn != nil {
		fn(i.service, i.Addr(), state, healthy)
	}
}

// Snapshot is a point-in-time view of an instance for status reporting.
type Snapshot struct {
	ID                   string    `json:"id"`
	Service              string    `json:"service"`
	URL                  string    `json:"url"`
	Healthy              bool      `json:"healthy"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastTransition       time.Time `json:"last_transition"`
}

// Snapshot returns a consistent view of the instance state.
func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	return Snapshot{
		ID:                   i.id,
		Service:              i.service,
		URL:                  i.url.String(),
		Healthy:              i.healthy,
		State:                i.state.String(),
		ConsecutiveFailures:  i.consecutiveFailures,
		ConsecutiveSuccesses: i.consecutiveSuccesses,
		LastFailure:          i.lastFailure,
		LastTransition:       i.lastTransition,
	}
}

// state accessors used by tests and the registry.

// State returns the current circuit breaker state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Healthy reports whether the instance is currently marked healthy.
func (i *Instance) Healthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.healthy
}
