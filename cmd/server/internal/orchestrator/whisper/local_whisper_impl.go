package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// CommandName is the logical collaborator name the executor resolves for local transcription.
const CommandName = "whisper"

// LocalWhisperImpl implements WhisperTranscriber for a local whisper command-line program
// (faster-whisper wrapper script or whisper.cpp binary) executed through the dependency executor.
//
// CLI contract:
//   - Invocation: <whisper> transcribe <model> <audio> --format json --temperature T
//     [--language L] [--prompt P] [--device D] [--compute-type C]
//   - Output: either one JSON object shaped like TranscriptionResult, or a stream of
//     JSON segment objects (pretty-printed or one per line)
type LocalWhisperImpl struct {
	executor dependency.DependencyExecutor
}

// NewLocalWhisperImpl creates a new LocalWhisperImpl bound to the given executor.
func NewLocalWhisperImpl(executor dependency.DependencyExecutor) *LocalWhisperImpl {
	return &LocalWhisperImpl{executor: executor}
}

// Transcribe performs audio transcription by invoking the local whisper CLI program.
func (l *LocalWhisperImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	args := []string{"transcribe", options.model(), audioPath, "--format", "json"}

	// default 0.0 to reduce hallucinations/repetitions
	temperature := 0.0
	if options != nil && options.Temperature > 0 {
		temperature = options.Temperature
	}
	args = append(args, "--temperature", fmt.Sprintf("%.1f", temperature))

	if options != nil {
		if options.Language != "" {
			args = append(args, "--language", options.Language)
		}
		if options.Prompt != "" {
			args = append(args, "--prompt", options.Prompt)
		}
		if options.Device != "" {
			args = append(args, "--device", options.Device)
		}
		if options.ComputeType != "" {
			args = append(args, "--compute-type", options.ComputeType)
		}
	}

	log := logger.L().With("component", "local-whisper")
	log.Debug("executing transcription", "audio", audioPath, "args", strings.Join(args, " "))

	resp, err := l.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: CommandName,
		Args:    args,
		Timeout: options.timeout(),
	})
	if err != nil {
		log.Error("transcription command failed", "audio", audioPath, "error", err, "stderr", resp.Stderr)
		return nil, fmt.Errorf("CLI execution failed: %w, stderr: %s", err, resp.Stderr)
	}

	result, err := ParseOutput([]byte(resp.Stdout))
	if err != nil {
		return nil, err
	}
	log.Debug("transcription parsed", "audio", audioPath, "segments", len(result.Segments))
	return result, nil
}

// ParseOutput decodes the CLI output. A leading object carrying "segments" is taken
// as the complete result; otherwise every JSON value is a segment.
func ParseOutput(output []byte) (*TranscriptionResult, error) {
	type value struct {
		TranscriptionSegment
		Segments *[]TranscriptionSegment `json:"segments"`
		Language string                  `json:"language"`
		Duration float64                 `json:"duration"`
	}

	result := &TranscriptionResult{Segments: []TranscriptionSegment{}}
	decoder := json.NewDecoder(bytes.NewReader(output))
	parsed := 0
	for {
		var v value
		if err := decoder.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse JSON segment: %w", err)
		}
		parsed++
		if v.Segments != nil {
			result.Segments = append(result.Segments, *v.Segments...)
			result.Text = v.Text
			result.Language = v.Language
			result.Duration = v.Duration
			continue
		}
		result.Segments = append(result.Segments, v.TranscriptionSegment)
	}

	if parsed == 0 {
		return nil, fmt.Errorf("no segments found in output")
	}

	if result.Text == "" {
		texts := make([]string, 0, len(result.Segments))
		for _, s := range result.Segments {
			texts = append(texts, strings.TrimSpace(s.Text))
		}
		result.Text = strings.Join(texts, " ")
	}
	for i := range result.Segments {
		if result.Segments[i].ID == 0 {
			result.Segments[i].ID = i
		}
	}
	return result, nil
}

// HealthCheck verifies that the local whisper program is functional by running `version`.
func (l *LocalWhisperImpl) HealthCheck(ctx context.Context) (bool, error) {
	resp, err := l.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: CommandName,
		Args:    []string{"version"},
	})
	if err != nil {
		return false, fmt.Errorf("version check failed: %w, output: %s", err, resp.Stderr)
	}
	if strings.TrimSpace(resp.Stdout) == "" {
		return false, fmt.Errorf("unexpected empty version output")
	}
	return true, nil
}

// Name returns the identifier of this transcriber implementation.
func (l *LocalWhisperImpl) Name() string {
	return "local-whisper"
}
