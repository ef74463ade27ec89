// Package connwatch tracks whether the upstream services ChatNGT depends
// on (completion providers) are reachable, for reporting on /health.
//
// A Watcher probes one service. While the service is down it retries
// with exponential backoff; once up it falls back to a steady poll.
// Probe results never gate chat requests: a turn against an unreachable
// provider still fails on its own with a descriptive error.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Timing controls how often a Watcher probes.
type Timing struct {
	// RetryDelay is the first delay after a failed probe (default: 2s).
	RetryDelay time.Duration

	// MaxRetryDelay caps the doubling retry delay (default: 60s).
	MaxRetryDelay time.Duration

	// PollInterval is the delay between probes of a healthy service
	// (default: 60s).
	PollInterval time.Duration

	// ProbeTimeout bounds a single probe (default: 10s).
	ProbeTimeout time.Duration
}

// DefaultTiming returns the production probe schedule.
func DefaultTiming() Timing {
	return Timing{
		RetryDelay:    2 * time.Second,
		MaxRetryDelay: 60 * time.Second,
		PollInterval:  60 * time.Second,
		ProbeTimeout:  10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.RetryDelay <= 0 {
		t.RetryDelay = d.RetryDelay
	}
	if t.MaxRetryDelay <= 0 {
		t.MaxRetryDelay = d.MaxRetryDelay
	}
	if t.MaxRetryDelay < t.RetryDelay {
		t.MaxRetryDelay = t.RetryDelay
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = d.ProbeTimeout
	}
	return t
}

// ServiceStatus is the health of one watched service as reported by
// the /health endpoint.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checks    int       `json:"checks"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	name   string
	probe  ProbeFunc
	timing Timing
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	checks    int
	lastErr   error
	lastCheck time.Time
}

// Status returns a snapshot of the watcher's state.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.name,
		Ready:     w.ready,
		Checks:    w.checks,
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// Check probes the service now and records the result. State
// transitions are logged at Info.
func (w *Watcher) Check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.timing.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	wasReady, first := w.ready, w.checks == 0
	w.ready = err == nil
	w.checks++
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		w.logger.Info("service reachable", "service", w.name)
	case err != nil && (wasReady || first):
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "error", err)
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.timing.RetryDelay
	for {
		next := w.timing.PollInterval
		if err := w.Check(ctx); err != nil {
			next = delay
			delay = min(delay*2, w.timing.MaxRetryDelay)
		} else {
			delay = w.timing.RetryDelay
		}

		if ctx.Err() != nil || !sleepCtx(ctx, next) {
			return
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager coordinates the watchers for every upstream service.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts probing a service in the background until ctx is
// cancelled or Stop is called. Watching a name again replaces and
// stops the previous watcher.
//
// Panics if name is empty or probe is nil.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, timing Timing) *Watcher {
	if name == "" {
		panic("connwatch: name must not be empty")
	}
	if probe == nil {
		panic("connwatch: probe must not be nil")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:   name,
		probe:  probe,
		timing: timing.withDefaults(),
		logger: m.logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.watchers[name]
	m.watchers[name] = w
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	go w.run(watchCtx)
	return w
}

// Status returns the health of every watched service.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Names returns the watched service names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.watchers))
	for name := range m.watchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop shuts down all watchers and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
