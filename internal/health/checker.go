// Package health runs periodic health probes against registered
// upstream instances.
package health

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rsinha488/ecommerce-gateway/internal/observability"
	"github.com/rsinha488/ecommerce-gateway/internal/registry"
)

// Default probe configuration.
const (
	DefaultProbePath     = "/health"
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Prober periodically probes every instance in the registry and
// updates its health flag. A succeeding probe additionally nudges an
// open circuit to half-open so a recovered instance rejoins the
// rotation ahead of the open timeout. A failing probe never trips a
// circuit: circuits open only on real traffic failures.
type Prober struct {
	registry *registry.Registry
	path     string
	interval time.Duration
	client   *http.Client
	logger   observability.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// ProberOption is a functional option for configuring the prober.
type ProberOption func(*Prober)

// WithProbePath sets the path probed on every instance.
func WithProbePath(path string) ProberOption {
	return func(p *Prober) {
		if path != "" {
			p.path = path
		}
	}
}

// WithProbeInterval sets the interval between probe rounds.
func WithProbeInterval(interval time.Duration) ProberOption {
	return func(p *Prober) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(timeout time.Duration) ProberOption {
	return func(p *Prober) {
		if timeout > 0 {
			p.client.Timeout = timeout
		}
	}
}

// WithProbeClient sets the HTTP client used for probes.
func WithProbeClient(client *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = client
	}
}

// WithProberLogger sets the logger for the prober.
func WithProberLogger(logger observability.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// NewProber creates a prober over the given registry.
func NewProber(reg *registry.Registry, opts ...ProberOption) *Prober {
	p := &Prober{
		registry:  reg,
		path:      DefaultProbePath,
		interval:  DefaultProbeInterval,
		client:    &http.Client{Timeout: DefaultProbeTimeout},
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the probe loop. It returns immediately.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop stops the probe loop and waits for it to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stoppedCh
}

// run is the main probe loop.
func (p *Prober) run(ctx context.Context) {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll probes every registered instance concurrently and waits for
// the round to finish.
func (p *Prober) probeAll(ctx context.Context) {
	var wg sync.WaitGroup

	p.registry.Walk(func(inst *registry.Instance) {
		wg.Add(1)
		go func(inst *registry.Instance) {
			defer wg.Done()
			p.probe(ctx, inst)
		}(inst)
	})

	wg.Wait()
}

// probe checks a single instance and records the outcome.
func (p *Prober) probe(ctx context.Context, inst *registry.Instance) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	target := inst.URL().JoinPath(p.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		p.recordProbeFailure(inst, err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordProbeFailure(inst, err)
		return
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Debug("health probe returned non-2xx",
			observability.String("service", inst.Service()),
			observability.String("instance", inst.Addr()),
			observability.Int("status", resp.StatusCode),
		)
		inst.MarkUnhealthy()
		return
	}

	inst.MarkHealthy()
	inst.NudgeHalfOpen()
}

// recordProbeFailure marks the instance unhealthy after a transport
// level probe failure.
func (p *Prober) recordProbeFailure(inst *registry.Instance, err error) {
	p.logger.Debug("health probe failed",
		observability.String("service", inst.Service()),
		observability.String("instance", inst.Addr()),
		observability.Error(err),
	)
	inst.MarkUnhealthy()
}
