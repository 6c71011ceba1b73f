// Package connectivity watches backend reachability and triggers queue
// drains when it comes back.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tiliavir/stampclock/internal/metrics"
	"github.com/Tiliavir/stampclock/internal/queue"
)

// DefaultDebounce is the delay between regaining the backend and draining.
const DefaultDebounce = time.Second

// Probe reports backend reachability.
type Probe interface {
	// Subscribe registers cb for reachability changes and returns a function
	// that removes it.
	Subscribe(cb func(reachable bool)) (unsubscribe func())
	// CheckNow performs a single check.
	CheckNow(ctx context.Context) bool
}

// Drainer replays the offline queue.
type Drainer interface {
	ProcessQueue(ctx context.Context) queue.DrainResult
}

// Monitor drains the queue at startup when the backend is reachable and
// again, after a debounce, each time it becomes reachable.
type Monitor struct {
	probe    Probe
	drainer  Drainer
	debounce time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	ctx       context.Context
	reachable bool
	timer     *time.Timer
	gen       int
	stopped   bool
	wg        sync.WaitGroup
}

// NewMonitor returns a Monitor. A debounce <= 0 means DefaultDebounce.
func NewMonitor(p Probe, d Drainer, debounce time.Duration, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:    p,
		drainer:  d,
		debounce: debounce,
		logger:   logger.With("component", "connectivity"),
		metrics:  m,
	}
}

// Reachable is the last observed reachability.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Start checks reachability once, then follows the probe until stop is
// called. stop cancels a pending drain and waits for a running one.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	ok := m.probe.CheckNow(ctx)
	m.mu.Lock()
	m.ctx = ctx
	m.reachable = ok
	m.mu.Unlock()
	m.metrics.SetReachable(ok)
	m.logger.Info("initial connectivity check", "reachable", ok)

	if ok {
		m.mu.Lock()
		m.wg.Add(1)
		m.mu.Unlock()
		go func() {
			defer m.wg.Done()
			m.drain(ctx)
		}()
	}

	unsubscribe := m.probe.Subscribe(m.onChange)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.stopped = true
			if m.timer != nil {
				m.timer.Stop()
				m.timer = nil
			}
			m.mu.Unlock()

			unsubscribe()
			cancel()
			m.wg.Wait()
		})
	}
}

func (m *Monitor) onChange(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	prev := m.reachable
	m.reachable = ok
	m.metrics.SetReachable(ok)

	if !ok {
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
			m.logger.Debug("backend lost, pending drain cancelled")
		}
		m.gen++
		return
	}
	if prev {
		return
	}

	m.logger.Info("backend reachable, scheduling drain", "debounce", m.debounce)
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.debounce, func() { m.fire(gen) })
}

// fire runs a scheduled drain unless it was cancelled or superseded.
func (m *Monitor) fire(gen int) {
	m.mu.Lock()
	if m.stopped || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	m.drain(ctx)
}

func (m *Monitor) drain(ctx context.Context) {
	res := m.drainer.ProcessQueue(ctx)
	switch {
	case res.Skipped:
		m.logger.Debug("drain skipped, another one is running")
	case res.Err != nil:
		m.logger.Warn("drain halted", "replayed", res.Replayed, "remaining", res.Remaining, "error", res.Err)
	case res.Replayed > 0:
		m.logger.Info("drain finished", "replayed", res.Replayed)
	}
}
