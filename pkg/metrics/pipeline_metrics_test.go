package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordStage(t *testing.T) {
	stageExecutionTotal.Reset()
	stageDuration.Reset()

	RecordStage("train", "success", 12.5)
	RecordStage("train", "success", 3)

	metric := &dto.Metric{}
	if err := stageExecutionTotal.WithLabelValues("train", "success").Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}

	hist := &dto.Metric{}
	observer := stageDuration.WithLabelValues("train")
	if err := observer.(interface{ Write(*dto.Metric) error }).Write(hist); err != nil {
		t.Fatalf("Failed to write histogram: %v", err)
	}
	if hist.Histogram.GetSampleCount() != 2 {
		t.Errorf("Expected 2 samples, got %d", hist.Histogram.GetSampleCount())
	}
	if hist.Histogram.GetSampleSum() != 15.5 {
		t.Errorf("Expected sample sum 15.5, got %f", hist.Histogram.GetSampleSum())
	}
}

func TestRecordCommandExecution(t *testing.T) {
	tests := []struct {
		name    string
		command string
		status  string
	}{
		{"whisper success", "whisper", "success"},
		{"trainer failed", "trainer", "failed"},
		{"ffmpeg timeout", "ffmpeg", "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collaboratorCommandTotal.Reset()

			RecordCommandExecution(tt.command, tt.status)

			metric := &dto.Metric{}
			if err := collaboratorCommandTotal.WithLabelValues(tt.command, tt.status).Write(metric); err != nil {
				t.Fatalf("write metric: %v", err)
			}
			if metric.Counter.GetValue() != 1 {
				t.Errorf("Expected counter value 1, got %f", metric.Counter.GetValue())
			}
		})
	}
}

func TestSetModelLoaded(t *testing.T) {
	SetModelLoaded(true)
	metric := &dto.Metric{}
	if err := modelLoaded.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("Expected gauge 1, got %f", metric.Gauge.GetValue())
	}

	SetModelLoaded(false)
	metric = &dto.Metric{}
	if err := modelLoaded.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 0 {
		t.Errorf("Expected gauge 0, got %f", metric.Gauge.GetValue())
	}
}

func TestSetEnvironmentReady(t *testing.T) {
	SetEnvironmentReady(false)
	metric := &dto.Metric{}
	if err := environmentReady.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 0 {
		t.Errorf("Expected gauge 0, got %f", metric.Gauge.GetValue())
	}
}
