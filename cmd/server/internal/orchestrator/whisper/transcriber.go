// Package whisper provides an abstraction layer for the Whisper speech-recognition
// collaborator used to label fine-tuning datasets. It defines the interface and data
// structures shared by the CLI-backed and HTTP-backed implementations.
package whisper

import (
	"context"
	"time"
)

// TranscriptionSegment represents a single segment of transcribed audio with timing information.
// Each segment becomes one clip and one manifest row of the dataset.
type TranscriptionSegment struct {
	// ID is the sequential identifier of this segment within the transcription
	ID int `json:"id"`

	// Start is the beginning time of this segment in seconds from the audio start
	Start float64 `json:"start"`

	// End is the ending time of this segment in seconds from the audio start
	End float64 `json:"end"`

	// Text is the transcribed text content of this segment
	Text string `json:"text"`
}

// TranscriptionResult represents the complete result of an audio transcription operation.
type TranscriptionResult struct {
	// Segments is the list of all transcribed segments with timing information
	Segments []TranscriptionSegment `json:"segments"`

	// Text is the complete transcribed text (concatenation of all segment texts)
	Text string `json:"text"`

	// Language is the detected or specified language code (e.g., "en", "zh")
	Language string `json:"language"`

	// Duration is the total duration of the audio in seconds.
	// Zero when the backend does not report it; callers fall back to the last segment end.
	Duration float64 `json:"duration"`
}

// EffectiveDuration returns Duration, or the end of the last segment when Duration is unknown.
func (r *TranscriptionResult) EffectiveDuration() float64 {
	if r == nil {
		return 0
	}
	if r.Duration > 0 {
		return r.Duration
	}
	var end float64
	for _, s := range r.Segments {
		if s.End > end {
			end = s.End
		}
	}
	return end
}

// WhisperTranscriber defines the standard interface for audio transcription services.
// All concrete implementations (GoWhisperImpl, LocalWhisperImpl, StaticTranscriber)
// implement this interface so the dataset formatter and the failover controller can
// treat them interchangeably.
type WhisperTranscriber interface {
	// Transcribe performs audio transcription on the given audio file.
	//
	// Parameters:
	//   - ctx: Context for timeout control and cancellation
	//   - audioPath: Absolute path to the audio file (wav/mp3/flac)
	//   - options: Optional transcription parameters (model, language, device, timeout)
	//
	// Implementation notes:
	//   - Must respect context timeout and cancellation
	//   - Should wrap external errors with context: fmt.Errorf("transcription failed: %w", err)
	//   - Empty segments should return valid TranscriptionResult with empty Segments slice, not error
	Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error)

	// HealthCheck verifies that the transcription service is operational.
	// Should be lightweight and fast (< 10 seconds).
	HealthCheck(ctx context.Context) (bool, error)

	// Name returns the human-readable identifier of this transcriber implementation
	// (e.g., "go-whisper", "local-whisper").
	Name() string
}

// TranscribeOptions defines optional parameters for the Transcribe operation.
// All fields are optional; implementations should provide sensible defaults.
type TranscribeOptions struct {
	// Model specifies the Whisper model to use (e.g., "large-v3", "medium").
	// Default: DefaultModel
	Model string

	// Language forces transcription in a specific language (ISO 639-1 code, e.g., "en", "zh").
	// Empty string means auto-detection.
	Language string

	// Prompt provides context to improve transcription accuracy (optional).
	Prompt string

	// Temperature controls sampling; 0 reduces hallucinations and repetitions.
	Temperature float64

	// Device selects the compute device ("cuda" or "cpu"). Empty lets the backend decide.
	Device string

	// ComputeType selects the precision ("float16", "int8", "float32").
	ComputeType string

	// Timeout overrides the default transcription timeout.
	// Default: 30 minutes (long source recordings)
	Timeout time.Duration
}

// DefaultModel is used when TranscribeOptions.Model is empty.
const DefaultModel = "large-v3"

// DefaultTimeout bounds a single file's transcription.
const DefaultTimeout = 30 * time.Minute

func (o *TranscribeOptions) model() string {
	if o == nil || o.Model == "" {
		return DefaultModel
	}
	return o.Model
}

func (o *TranscribeOptions) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}
