// Package health provides periodic health probing of the external collaborators
// (whisper service, collaborator programs, inference worker) with failure thresholds.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// Probe is anything that can report its own health. whisper.WhisperTranscriber
// satisfies it directly; other collaborators are adapted with ProbeFunc.
type Probe interface {
	HealthCheck(ctx context.Context) (bool, error)
	Name() string
}

// ProbeFunc adapts an error-returning check into a Probe.
type ProbeFunc struct {
	ProbeName string
	Check     func(ctx context.Context) error
}

// HealthCheck runs the wrapped check.
func (p ProbeFunc) HealthCheck(ctx context.Context) (bool, error) {
	if err := p.Check(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Name returns the probe name.
func (p ProbeFunc) Name() string { return p.ProbeName }

// ServiceStatus represents the current health state of a collaborator.
// All fields are safe for JSON serialization and can be exposed via API endpoints.
type ServiceStatus struct {
	// Name identifies the probed collaborator
	Name string `json:"name"`

	// IsHealthy indicates whether the service passed recent health checks
	IsHealthy bool `json:"is_healthy"`

	// LastCheckTime records when the most recent health check was performed
	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails counts how many health checks have failed in a row
	ConsecutiveFails int `json:"consecutive_fails"`

	// ErrorMessage contains the last error message if health check failed
	ErrorMessage string `json:"error_message"`
}

// HealthChecker performs periodic health checks on a Probe.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type HealthChecker struct {
	probe         Probe
	status        *ServiceStatus // protected by mu
	mu            sync.RWMutex
	checkInterval time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewHealthChecker creates a new HealthChecker. It starts in a healthy state
// (optimistic assumption); call Start to begin periodic checks.
func NewHealthChecker(probe Probe, checkInterval time.Duration, failThreshold int) *HealthChecker {
	if failThreshold <= 0 {
		failThreshold = 1
	}
	return &HealthChecker{
		probe:         probe,
		checkInterval: checkInterval,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		status: &ServiceStatus{
			Name:          probe.Name(),
			IsHealthy:     true,
			LastCheckTime: time.Now(),
		},
	}
}

// Start performs an immediate check, then checks at regular intervals until
// Stop is called or ctx is cancelled. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.Check(ctx)

	for {
		select {
		case <-ticker.C:
			hc.Check(ctx)
		case <-hc.stopChan:
			logger.L().Info("health checker stopped", "probe", hc.probe.Name())
			return
		case <-ctx.Done():
			logger.L().Info("health checker context cancelled", "probe", hc.probe.Name())
			return
		}
	}
}

// Check executes a single health check and updates the status.
func (hc *HealthChecker) Check(ctx context.Context) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	isHealthy, err := hc.probe.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	log := logger.L().With("probe", hc.probe.Name())
	hc.status.LastCheckTime = time.Now()

	if isHealthy {
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
		log.Debug("health check passed")
		return *hc.status
	}

	hc.status.ConsecutiveFails++
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	hc.status.ErrorMessage = fmt.Sprintf("Health check failed: %s", errMsg)

	if hc.status.ConsecutiveFails >= hc.failThreshold {
		hc.status.IsHealthy = false
		log.Error("health check failed, marking as unhealthy", "fails", hc.status.ConsecutiveFails)
	} else {
		log.Warn("health check failed", "fails", hc.status.ConsecutiveFails, "threshold", hc.failThreshold, "error", errMsg)
	}
	return *hc.status
}

// GetStatus returns a copy of the current health status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return *hc.status
}

// Stop terminates the checking loop. Safe to call multiple times.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}

// Registry groups the checkers reported by the services status endpoint.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]*HealthChecker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]*HealthChecker)}
}

// Add registers a checker under its probe name.
func (r *Registry) Add(hc *HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[hc.probe.Name()] = hc
}

// StartAll launches every checker's loop; they stop when ctx is cancelled.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, hc := range r.checkers {
		go hc.Start(ctx)
	}
}

// Statuses returns all statuses sorted by name.
func (r *Registry) Statuses() []ServiceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(r.checkers))
	for _, hc := range r.checkers {
		out = append(out, hc.GetStatus())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
