// Package degradation switches dataset transcription between the whisper HTTP service
// and the local whisper program based on the service's health.
package degradation

import (
	"context"
	"sync"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// DegradationController manages which transcriber labels datasets.
//
// Priority strategy:
//  1. primary (GoWhisperImpl, a long-running GPU service) while its health checker reports healthy
//  2. fallback (LocalWhisperImpl, one process per file, slower to start)
//
// Unlike a mock fallback, both implementations produce real transcripts: an empty
// transcription would silently yield an unusable dataset.
//
// DegradationController itself implements whisper.WhisperTranscriber.
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type DegradationController struct {
	primaryTranscriber  whisper.WhisperTranscriber
	fallbackTranscriber whisper.WhisperTranscriber
	healthChecker       *health.HealthChecker // monitors the primary
	currentTranscriber  whisper.WhisperTranscriber
	mu                  sync.RWMutex
	isDegraded          bool
}

// NewDegradationController creates a controller. Initial state uses the primary
// transcriber (optimistic assumption of health).
func NewDegradationController(
	primary whisper.WhisperTranscriber,
	fallback whisper.WhisperTranscriber,
	hc *health.HealthChecker,
) *DegradationController {
	return &DegradationController{
		primaryTranscriber:  primary,
		fallbackTranscriber: fallback,
		healthChecker:       hc,
		currentTranscriber:  primary,
	}
}

// GetTranscriber returns the current active transcriber, switching between
// primary and fallback based on the latest health status.
func (dc *DegradationController) GetTranscriber() whisper.WhisperTranscriber {
	status := dc.healthChecker.GetStatus()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if !status.IsHealthy && !dc.isDegraded {
		logger.L().Warn("degrading to fallback transcriber",
			"fallback", dc.fallbackTranscriber.Name(), "primary", dc.primaryTranscriber.Name(), "reason", status.ErrorMessage)
		dc.currentTranscriber = dc.fallbackTranscriber
		dc.isDegraded = true
	}

	if status.IsHealthy && dc.isDegraded {
		logger.L().Info("recovering to primary transcriber", "primary", dc.primaryTranscriber.Name())
		dc.currentTranscriber = dc.primaryTranscriber
		dc.isDegraded = false
	}

	return dc.currentTranscriber
}

// IsDegraded returns whether the fallback transcriber is active.
func (dc *DegradationController) IsDegraded() bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.isDegraded
}

// Transcribe delegates to the currently selected transcriber.
func (dc *DegradationController) Transcribe(ctx context.Context, audioPath string, options *whisper.TranscribeOptions) (*whisper.TranscriptionResult, error) {
	return dc.GetTranscriber().Transcribe(ctx, audioPath, options)
}

// HealthCheck reports healthy when either transcriber is usable.
func (dc *DegradationController) HealthCheck(ctx context.Context) (bool, error) {
	if dc.healthChecker.GetStatus().IsHealthy {
		return true, nil
	}
	return dc.fallbackTranscriber.HealthCheck(ctx)
}

// Name returns the name of the active transcriber.
func (dc *DegradationController) Name() string {
	return dc.GetTranscriber().Name()
}
