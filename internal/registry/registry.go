package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/observability"
)

// ErrNoInstance is returned when a service has no instance eligible to
// receive traffic.
var ErrNoInstance = errors.New("no available instance")

// ErrUnknownService is returned when a service is not registered.
var ErrUnknownService = errors.New("unknown service")

// servicePool holds the instances of one service and the round-robin
// cursor over them.
type servicePool struct {
	mu        sync.Mutex
	instances []*Instance
	cursor    int
}

// Registry tracks all upstream instances grouped by service and picks
// the next eligible instance per request.
type Registry struct {
	mu      sync.RWMutex
	pools   map[string]*servicePool
	breaker BreakerConfig
	logger  observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink for instance state transitions.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// withClock overrides the time source, for tests.
func withClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry using the given breaker thresholds for
// every registered instance.
func New(breaker BreakerConfig, opts ...Option) *Registry {
	r := &Registry{
		pools:   make(map[string]*servicePool),
		breaker: breaker,
		logger:  observability.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an upstream URL as a new instance of the named
// service, creating the service pool if needed.
func (r *Registry) Register(service, rawURL string) (*Instance, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse instance url %q: %w", rawURL, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("instance url %q: unsupported scheme %q", rawURL, target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("instance url %q: missing host", rawURL)
	}

	inst := NewInstance(service, target, r.breaker)
	inst.SetStateChangeFunc(r.onStateChange)

	r.mu.Lock()
	pool, ok := r.pools[service]
	if !ok {
		pool = &servicePool{}
		r.pools[service] = pool
	}
	r.mu.Unlock()

	pool.mu.Lock()
	pool.instances = append(pool.instances, inst)
	pool.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetInstanceHealth(service, inst.Addr(), true)
		r.metrics.SetCircuitState(service, inst.Addr(), StateClosed.metricValue())
	}

	r.logger.Info("registered instance",
		observability.String("service", service),
		observability.String("instance", inst.Addr()),
	)

	return inst, nil
}

// Deregister removes an instance from its service pool.
func (r *Registry) Deregister(service, id string) bool {
	r.mu.RLock()
	pool, ok := r.pools[service]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	for idx, inst := range pool.instances {
		if inst.ID() == id {
			pool.instances = append(pool.instances[:idx], pool.instances[idx+1:]...)
			if pool.cursor >= len(pool.instances) && len(pool.instances) > 0 {
				pool.cursor = pool.cursor % len(pool.instances)
			}
			return true
		}
	}
	return false
}

// Next returns the next eligible instance of the service in
// round-robin order. Instances that are unhealthy or have an open
// circuit are skipped; an open circuit past its timeout becomes
// half-open during eligibility evaluation and rejoins the rotation.
func (r *Registry) Next(service string) (*Instance, error) {
	r.mu.RLock()
	pool, ok := r.pools[service]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownService
	}

	now := r.now()

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if len(pool.instances) == 0 {
		return nil, ErrNoInstance
	}

	eligible := make([]*Instance, 0, len(pool.instances))
	for _, inst := range pool.instances {
		if inst.Eligible(now) {
			eligible = append(eligible, inst)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoInstance
	}

	inst := eligible[pool.cursor%len(eligible)]
	pool.cursor = (pool.cursor + 1) % len(eligible)
	return inst, nil
}

// Instances returns snapshots of all instances of the service.
func (r *Registry) Instances(service string) []Snapshot {
	r.mu.RLock()
	pool, ok := r.pools[service]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	snaps := make([]Snapshot, 0, len(pool.instances))
	for _, inst := range pool.instances {
		snaps = append(snaps, inst.Snapshot())
	}
	return snaps
}

// All returns snapshots of every instance grouped by service name.
func (r *Registry) All() map[string][]Snapshot {
	r.mu.RLock()
	services := make([]string, 0, len(r.pools))
	for name := range r.pools {
		services = append(services, name)
	}
	r.mu.RUnlock()

	sort.Strings(services)

	out := make(map[string][]Snapshot, len(services))
	for _, name := range services {
		out[name] = r.Instances(name)
	}
	return out
}

// Services returns the names of all registered services, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Walk calls fn for every instance of every service.
func (r *Registry) Walk(fn func(*Instance)) {
	r.mu.RLock()
	pools := make([]*servicePool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}
	r.mu.RUnlock()

	for _, pool := range pools {
		pool.mu.Lock()
		instances := make([]*Instance, len(pool.instances))
		copy(instances, pool.instances)
		pool.mu.Unlock()

		for _, inst := range instances {
			fn(inst)
		}
	}
}

// onStateChange publishes instance transitions to logs and metrics.
func (r *Registry) onStateChange(service, instance string, state State, healthy bool) {
	r.logger.Info("instance state changed",
		observability.String("service", service),
		observability.String("instance", instance),
		observability.String("state", state.String()),
		observability.Bool("healthy", healthy),
	)

	if r.metrics != nil {
		r.metrics.SetInstanceHealth(service, instance, healthy)
		r.metrics.SetCircuitState(service, instance, state.metricValue())
	}
}
