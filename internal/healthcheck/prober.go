// Package healthcheck periodically probes the dependencies of a store, such
// as the document database and the embedding provider, and keeps the latest
// result of each for readiness reporting.
package healthcheck

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/convostore/internal/metrics"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// Config controls the prober.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Optional checks are reported but do not affect Healthy.
	Optional []string
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Result is the outcome of the latest probe of one dependency.
type Result struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Optional  bool          `json:"optional,omitempty"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	// Failures counts consecutive failed probes.
	Failures  int           `json:"failures,omitempty"`
}

// Prober runs registered checks on an interval.
type Prober struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	started atomic.Bool

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	results  map[string]Result
	optional map[string]bool
}

// NewProber creates a prober with no checks.
func NewProber(cfg Config, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	optional := make(map[string]bool, len(cfg.Optional))
	for _, name := range cfg.Optional {
		optional[name] = true
	}
	return &Prober{
		cfg:      cfg,
		logger:   logger.With("component", "healthcheck"),
		now:      time.Now,
		checks:   make(map[string]CheckFunc),
		results:  make(map[string]Result),
		optional: optional,
	}
}

// Register adds or replaces a named check.
func (p *Prober) Register(name string, check CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[name] = check
}

// Start runs every check once, then again on each interval until ctx is
// canceled. Calling Start twice has no effect.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

// RunOnce probes every registered dependency sequentially.
func (p *Prober) RunOnce(ctx context.Context) {
	p.mu.RLock()
	names := make([]string, 0, len(p.checks))
	for name := range p.checks {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		p.mu.RLock()
		check := p.checks[name]
		p.mu.RUnlock()
		p.probe(ctx, name, check)
	}
}

func (p *Prober) probe(ctx context.Context, name string, check CheckFunc) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.now()
	err := check(probeCtx)
	res := Result{
		Name:      name,
		Healthy:   err == nil,
		Optional:  p.optional[name],
		CheckedAt: start,
		Latency:   p.now().Sub(start),
	}

	p.mu.Lock()
	prev, seen := p.results[name]
	if err != nil {
		res.Error = err.Error()
		res.Failures = prev.Failures + 1
	}
	p.results[name] = res
	p.mu.Unlock()

	if err != nil {
		metrics.DependencyUp.WithLabelValues(name).Set(0)
		p.logger.Warn("healthcheck probe failed", "dependency", name, "failures", res.Failures, "error", err)
		return
	}
	metrics.DependencyUp.WithLabelValues(name).Set(1)
	if seen && !prev.Healthy {
		p.logger.Info("healthcheck probe recovered", "dependency", name, "after_failures", prev.Failures)
	}
}

// Results returns the latest result of every probed dependency, sorted by
// name.
func (p *Prober) Results() []Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Result, 0, len(p.results))
	for _, r := range p.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every required dependency passed its latest probe.
// Dependencies that have not been probed yet count as unhealthy.
func (p *Prober) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name := range p.checks {
		if p.optional[name] {
			continue
		}
		if r, ok := p.results[name]; !ok || !r.Healthy {
			return false
		}
	}
	return true
}
