// Package sampler drives the capture cycle at a fixed cadence that corrects
// for the time each cycle took.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval = 400 * time.Millisecond
	DefaultMinDelay = 10 * time.Millisecond
)

// CycleFunc performs one capture-and-recognize cycle.
type CycleFunc func(ctx context.Context) error

// Config sets the cadence. Zero values take the package defaults.
type Config struct {
	Interval time.Duration
	MinDelay time.Duration
	Clock    clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MinDelay <= 0 {
		c.MinDelay = DefaultMinDelay
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Stats are cumulative counters since construction.
type Stats struct {
	Cycles  uint64 `json:"cycles"`
	Errors  uint64 `json:"errors"`
	Overrun uint64 `json:"overrun"` // cycles that took at least one interval
}

// Sampler runs cycles back to back without overlap.
type Sampler struct {
	cfg     Config
	cycle   CycleFunc
	running atomic.Bool

	mu     sync.Mutex
	active bool // a Run call owns the loop
	stop   chan struct{}

	cycles, errors, overrun atomic.Uint64
}

// New creates a sampler calling cycle once per tick.
func New(cfg Config, cycle CycleFunc) *Sampler {
	return &Sampler{cfg: cfg.withDefaults(), cycle: cycle}
}

// NextDelay returns how long to wait after a cycle that took elapsed.
func NextDelay(interval, elapsed, minDelay time.Duration) time.Duration {
	return max(minDelay, interval-elapsed)
}

// Run samples until ctx is done or Stop is called. It returns immediately if
// the sampler is already running.
func (s *Sampler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		slog.Warn("sampler already running")
		return
	}
	s.active = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.running.Store(true)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.running.Store(false)
		s.mu.Unlock()
	}()

	clock := s.cfg.Clock
	for s.running.Load() {
		start := clock.Now()
		s.runCycle(ctx)
		elapsed := clock.Since(start)
		if elapsed >= s.cfg.Interval {
			s.overrun.Add(1)
		}

		if !s.running.Load() || ctx.Err() != nil {
			return
		}
		timer := clock.NewTimer(NextDelay(s.cfg.Interval, elapsed, s.cfg.MinDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// Stop ends sampling. A cycle in flight finishes; Running reports false from
// now on so the cycle can discard its result.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		s.running.Store(false)
		close(s.stop)
	}
}

// Running reports whether the sampler has not been stopped.
func (s *Sampler) Running() bool { return s.running.Load() }

// Stats returns cumulative counters.
func (s *Sampler) Stats() Stats {
	return Stats{Cycles: s.cycles.Load(), Errors: s.errors.Load(), Overrun: s.overrun.Load()}
}

// runCycle isolates the loop from cycle failures and panics.
func (s *Sampler) runCycle(ctx context.Context) {
	s.cycles.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.errors.Add(1)
			slog.Error("sample cycle panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := s.cycle(ctx); err != nil {
		s.errors.Add(1)
		slog.Warn("sample cycle failed", "error", err)
	}
}
