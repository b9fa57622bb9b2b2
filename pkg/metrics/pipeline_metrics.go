// Package metrics provides Prometheus metrics for the fine-tuning pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline metrics
var (
	// stageExecutionTotal counts pipeline stage invocations.
	// Labels:
	//   - stage: dataset, merge, upload, train, optimize, load, infer
	//   - status: success, failed, rejected
	stageExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtts_stage_executions_total",
			Help: "Total number of pipeline stage executions",
		},
		[]string{"stage", "status"},
	)

	// stageDuration records wall time per stage. Training runs for hours,
	// so the buckets go well past the request-scale ones.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xtts_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.5, 1, 5, 30, 60, 300, 900, 3600, 14400},
		},
		[]string{"stage"},
	)

	// collaboratorCommandTotal counts external command executions.
	// Labels:
	//   - command: whisper, ffmpeg, demucs, trainer, checkpoint
	//   - status: success, failed, timeout
	collaboratorCommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtts_collaborator_commands_total",
			Help: "Total number of external collaborator command executions",
		},
		[]string{"command", "status"},
	)

	// modelLoaded is 1 while an inference model is resident.
	modelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xtts_model_loaded",
			Help: "Whether an inference model is currently loaded (0/1)",
		},
	)

	// environmentReady mirrors the startup environment check.
	environmentReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xtts_environment_ready",
			Help: "Environment readiness status (0=not ready, 1=ready)",
		},
	)

	// datasetAudioSeconds records total audio per formatted dataset.
	datasetAudioSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xtts_dataset_audio_seconds",
			Help:    "Total audio duration of formatted datasets in seconds",
			Buckets: []float64{60, 120, 300, 600, 1800, 3600, 7200},
		},
	)
)

func init() {
	prometheus.MustRegister(stageExecutionTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(collaboratorCommandTotal)
	prometheus.MustRegister(modelLoaded)
	prometheus.MustRegister(datasetAudioSeconds)
	prometheus.MustRegister(environmentReady)
}

// RecordStage records one stage execution and its duration.
func RecordStage(stage, status string, durationSeconds float64) {
	stageExecutionTotal.WithLabelValues(stage, status).Inc()
	stageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordCommandExecution records an external command execution.
func RecordCommandExecution(command, status string) {
	collaboratorCommandTotal.WithLabelValues(command, status).Inc()
}

// SetModelLoaded flips the model-loaded gauge.
func SetModelLoaded(loaded bool) {
	if loaded {
		modelLoaded.Set(1)
	} else {
		modelLoaded.Set(0)
	}
}

// RecordDatasetAudio observes the total audio length of a dataset.
func RecordDatasetAudio(seconds float64) {
	datasetAudioSeconds.Observe(seconds)
}

// SetEnvironmentReady records the result of the environment check.
func SetEnvironmentReady(ready bool) {
	if ready {
		environmentReady.Set(1)
	} else {
		environmentReady.Set(0)
	}
}
