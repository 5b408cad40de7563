// Package health runs periodic component checks for the server.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusUnknown   Status = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	LastCheck time.Time      `json:"lastCheck"`
	Latency   time.Duration  `json:"latencyNs"`
	Details   map[string]any `json:"details,omitempty"`
}

// Check reports the health of one component.
type Check func(ctx context.Context) ComponentHealth

// Config holds monitor configuration.
type Config struct {
	CheckInterval      time.Duration
	CheckTimeout       time.Duration
	MemoryThresholdMB  uint64
	GoroutineThreshold int
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:      30 * time.Second,
		CheckTimeout:       5 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 5000,
	}
}

// Monitor runs registered checks and keeps the latest results.
type Monitor struct {
	config Config
	logger zerolog.Logger

	mu        sync.RWMutex
	startTime time.Time
	checks    map[string]Check
	results   map[string]ComponentHealth
	status    Status

	totalChecks     int64
	failedChecks    int64
	panicRecoveries int64
}

// NewMonitor creates a monitor with the built-in memory and goroutine
// checks registered.
func NewMonitor(config Config, logger zerolog.Logger) *Monitor {
	defaults := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = defaults.CheckTimeout
	}
	if config.MemoryThresholdMB == 0 {
		config.MemoryThresholdMB = defaults.MemoryThresholdMB
	}
	if config.GoroutineThreshold <= 0 {
		config.GoroutineThreshold = defaults.GoroutineThreshold
	}

	m := &Monitor{
		config:    config,
		logger:    logger.With().Str("component", "health").Logger(),
		startTime: time.Now(),
		checks:    make(map[string]Check),
		results:   make(map[string]ComponentHealth),
		status:    StatusUnknown,
	}
	m.Register("memory", m.checkMemory)
	m.Register("goroutines", m.checkGoroutines)
	return m
}

// Register adds or replaces the check for a component.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Run checks every CheckInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks runs every check concurrently and records the results. A
// panicking check is reported unhealthy.
func (m *Monitor) RunChecks(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	var (
		resultsMu sync.Mutex
		results   = make([]ComponentHealth, 0, len(checks))
		panicked  int64
	)
	p := pool.New()
	for name, check := range checks {
		p.Go(func() {
			start := time.Now()
			var h ComponentHealth
			if r := panics.Try(func() { h = check(ctx) }); r != nil {
				h = ComponentHealth{
					Status:  StatusUnhealthy,
					Message: fmt.Sprintf("check panicked: %v", r.Value),
				}
				resultsMu.Lock()
				panicked++
				resultsMu.Unlock()
			}
			h.Name = name
			h.LastCheck = time.Now()
			if h.Latency == 0 {
				h.Latency = time.Since(start)
			}

			resultsMu.Lock()
			results = append(results, h)
			resultsMu.Unlock()
		})
	}
	p.Wait()

	m.mu.Lock()
	m.totalChecks++
	m.panicRecoveries += panicked
	overall := StatusHealthy
	for _, h := range results {
		prev, seen := m.results[h.Name]
		m.results[h.Name] = h
		switch h.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
			m.failedChecks++
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
		if !seen || prev.Status != h.Status {
			m.logTransition(h)
		}
	}
	m.status = overall
	m.mu.Unlock()

	return m.Snapshot()
}

func (m *Monitor) logTransition(h ComponentHealth) {
	event := m.logger.Debug()
	switch h.Status {
	case StatusUnhealthy:
		event = m.logger.Error()
	case StatusDegraded:
		event = m.logger.Warn()
	}
	event.Str("check", h.Name).Str("status", string(h.Status)).Msg(h.Message)
}

func (m *Monitor) checkMemory(ctx context.Context) ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	allocMB := memStats.Alloc / 1024 / 1024

	h := ComponentHealth{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Memory usage: %d MB", allocMB),
		Details: map[string]any{
			"alloc_mb": allocMB,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}
	if allocMB > m.config.MemoryThresholdMB {
		h.Status = StatusDegraded
		h.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
	}
	return h
}

func (m *Monitor) checkGoroutines(ctx context.Context) ComponentHealth {
	n := runtime.NumGoroutine()
	h := ComponentHealth{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Goroutine count: %d", n),
		Details: map[string]any{"count": n},
	}
	if n > m.config.GoroutineThreshold {
		h.Status = StatusDegraded
		h.Message = fmt.Sprintf("High goroutine count: %d", n)
	}
	return h
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status          Status            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"startTime"`
	Components      []ComponentHealth `json:"components"`
	TotalChecks     int64             `json:"totalChecks"`
	FailedChecks    int64             `json:"failedChecks"`
	PanicRecoveries int64             `json:"panicRecoveries"`
}

// Snapshot returns the latest recorded results, sorted by component.
func (m *Monitor) Snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make([]ComponentHealth, 0, len(m.results))
	for _, h := range m.results {
		components = append(components, h)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:          m.status,
		Uptime:          time.Since(m.startTime).Round(time.Second).String(),
		StartTime:       m.startTime,
		Components:      components,
		TotalChecks:     m.totalChecks,
		FailedChecks:    m.failedChecks,
		PanicRecoveries: m.panicRecoveries,
	}
}

// Handler serves the latest snapshot, running the checks first if none
// have run yet. Degraded still answers 200.
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := m.Snapshot()
		if snap.TotalChecks == 0 {
			snap = m.RunChecks(r.Context())
		}

		code := http.StatusOK
		if snap.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(snap)
	}
}

// LivenessHandler always answers alive.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"alive"}`))
	}
}

// DatabaseCheck reports a failing ping as unhealthy and a slow one as
// degraded.
func DatabaseCheck(ping func(ctx context.Context) error, slow time.Duration) Check {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		h := ComponentHealth{Latency: time.Since(start)}

		switch {
		case err != nil:
			h.Status = StatusUnhealthy
			h.Message = fmt.Sprintf("Database ping failed: %v", err)
		case h.Latency > slow:
			h.Status = StatusDegraded
			h.Message = fmt.Sprintf("Database slow: %v", h.Latency)
		default:
			h.Status = StatusHealthy
			h.Message = "Database reachable"
		}
		return h
	}
}

// FreshnessCheck reports a component degraded when last is older than
// stale, and unknown before it ever reported.
func FreshnessCheck(last func() time.Time, stale time.Duration) Check {
	return func(ctx context.Context) ComponentHealth {
		at := last()
		h := ComponentHealth{Details: map[string]any{"last": at}}
		switch age := time.Since(at); {
		case at.IsZero():
			h.Status = StatusUnknown
			h.Message = "No activity yet"
		case age > stale:
			h.Status = StatusDegraded
			h.Message = fmt.Sprintf("No activity for %v", age.Round(time.Second))
		default:
			h.Status = StatusHealthy
			h.Message = "Active"
		}
		return h
	}
}
