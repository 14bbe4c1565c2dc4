// Package connwatch monitors the health of external dependencies (the
// conversation cache, the durable database, the document store) and
// reports transitions on the event bus.
//
// This is distinct from httpkit's transport-level retry, which handles
// sub-second transient dial errors. connwatch covers multi-second to
// multi-minute outages so /health can report a degraded service before
// turns start failing.
//
// Each Watcher checks one dependency immediately, then re-checks at
// PollInterval while healthy and with exponential backoff (InitialDelay
// growing to MaxDelay) while down.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/grantdesk/internal/events"
)

// CheckFunc checks whether a dependency is reachable. Return nil if
// healthy.
type CheckFunc func(ctx context.Context) error

// BackoffConfig controls check timing.
type BackoffConfig struct {
	// InitialDelay is the first retry delay after a failure (default: 2s).
	InitialDelay time.Duration
	// MaxDelay caps backoff growth (default: 60s).
	MaxDelay time.Duration
	// PollInterval is the check interval while healthy (default: 60s).
	PollInterval time.Duration
	// CheckTimeout bounds each check (default: 10s).
	CheckTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s, ... 60s retries and 60s
// polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		PollInterval: 60 * time.Second,
		CheckTimeout: 10 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.CheckTimeout <= 0 {
		b.CheckTimeout = d.CheckTimeout
	}
	return b
}

// ServiceStatus is the health of one dependency as reported by /health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"lastCheck"`
	LastError string    `json:"lastError,omitempty"`
}

// Watcher monitors one dependency.
type Watcher struct {
	name    string
	checkFn CheckFunc
	backoff BackoffConfig
	bus     *events.Bus
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	checked   bool
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Status returns the current health.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{Name: w.name, Ready: w.ready, LastCheck: w.lastCheck}
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

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.InitialDelay
	for {
		checkCtx, cancel := context.WithTimeout(ctx, w.backoff.CheckTimeout)
		err := w.checkFn(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		next := w.backoff.PollInterval
		if err != nil {
			next = delay
			delay *= 2
			if delay > w.backoff.MaxDelay {
				delay = w.backoff.MaxDelay
			}
		} else {
			delay = w.backoff.InitialDelay
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// record stores the check outcome and reports transitions. The first
// check reports a failure but not a success.
func (w *Watcher) record(err error) {
	w.mu.Lock()
	first := !w.checked
	wasReady := w.ready
	w.checked = true
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case err != nil && (wasReady || first):
		w.logger.Warn("dependency unreachable", "service", w.name, "error", err)
		w.bus.Publish(events.NewEvent(events.SourceHealth, events.KindServiceDown, map[string]any{
			"service": w.name,
			"error":   err.Error(),
		}))
	case err == nil && first:
		w.logger.Info("dependency connected", "service", w.name)
	case err == nil && !wasReady:
		w.logger.Info("dependency recovered", "service", w.name)
		w.bus.Publish(events.NewEvent(events.SourceHealth, events.KindServiceUp, map[string]any{
			"service": w.name,
		}))
	case err != nil:
		w.logger.Debug("dependency still unreachable", "service", w.name, "error", err)
	}
}

// Manager coordinates watchers.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a manager that reports transitions on bus, which
// may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts probing a dependency until ctx is cancelled or Stop is
// called. Zero backoff fields take their defaults. Panics if name is
// empty or check is nil.
func (m *Manager) Watch(ctx context.Context, name string, check CheckFunc, backoff BackoffConfig) *Watcher {
	if name == "" {
		panic("connwatch: name must not be empty")
	}
	if check == nil {
		panic("connwatch: check must not be nil")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:    name,
		checkFn: check,
		backoff: backoff.withDefaults(),
		bus:     m.bus,
		logger:  m.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[name] = w
	m.mu.Unlock()
	return w
}

// Status returns every dependency's health, ordered by name.
func (m *Manager) Status() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop shuts down all watchers and waits for them to exit.
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
