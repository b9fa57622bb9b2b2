package training

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// Job is handed to the trainer as <run>/job.json.
type Job struct {
	BaseModelDir   string `json:"base_model_dir"`
	CustomModel    string `json:"custom_model,omitempty"`
	DVAEDir        string `json:"dvae_dir,omitempty"`
	TrainDVAE      bool   `json:"train_dvae"`
	Language       string `json:"language"`
	TrainManifest  string `json:"train_csv"`
	EvalManifest   string `json:"eval_csv"`
	NumEpochs      int    `json:"num_epochs"`
	BatchSize      int    `json:"batch_size"`
	GradAccum      int    `json:"grad_acumm"`
	MaxAudioLength int    `json:"max_audio_length"` // samples at 22050 Hz
	RunDir         string `json:"run_dir"`
}

// TrainOutput is read back from <run>/result.json. Empty fields are filled in
// by the orchestrator.
type TrainOutput struct {
	BestModel        string `json:"best_model"`
	SpeakerReference string `json:"speaker_reference"`
	Config           string `json:"config,omitempty"`
	Vocab            string `json:"vocab,omitempty"`
	Speakers         string `json:"speakers,omitempty"`
}

// Trainer runs one fine-tuning pass.
type Trainer interface {
	Train(ctx context.Context, job Job, progress pipeline.ProgressFunc) (*TrainOutput, error)
}

// trainerStdoutLimit keeps the tail of the trainer log for error summaries.
const trainerStdoutLimit = 64 * 1024

var epochPattern = regexp.MustCompile(`EPOCH:\s*(\d+)\s*/\s*(\d+)`)

// ExecTrainer runs the "trainer" collaborator command.
type ExecTrainer struct {
	executor dependency.DependencyExecutor
	command  string
	timeout  time.Duration
}

// NewExecTrainer creates a trainer backed by the dependency executor. A zero
// timeout leaves the run unbounded.
func NewExecTrainer(executor dependency.DependencyExecutor, timeout time.Duration) *ExecTrainer {
	return &ExecTrainer{executor: executor, command: "trainer", timeout: timeout}
}

// Train writes the job file, runs the trainer and parses result.json.
func (t *ExecTrainer) Train(ctx context.Context, job Job, progress pipeline.ProgressFunc) (*TrainOutput, error) {
	if progress == nil {
		progress = pipeline.NopProgress
	}
	if err := os.MkdirAll(job.RunDir, 0755); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return nil, err
	}
	jobPath := filepath.Join(job.RunDir, "job.json")
	resultPath := filepath.Join(job.RunDir, "result.json")
	if err := utils.WriteFileAtomic(jobPath, data, 0644); err != nil {
		return nil, err
	}

	log := logger.L().With("component", "trainer")
	resp, err := t.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command:     t.command,
		Args:        []string{"--job", jobPath, "--result", resultPath},
		Timeout:     t.timeout,
		StdoutLimit: trainerStdoutLimit,
		OnOutput: func(line string) {
			if m := epochPattern.FindStringSubmatch(line); m != nil {
				done, _ := strconv.Atoi(m[1])
				total, _ := strconv.Atoi(m[2])
				progress("training epoch", done, total)
			}
			log.Debug("trainer output", "line", line)
		},
	})
	if err != nil {
		if tail := strings.TrimSpace(resp.Stderr); tail != "" {
			return nil, fmt.Errorf("%w\n%s", err, lastLines(tail, 8))
		}
		return nil, err
	}

	raw, err := os.ReadFile(resultPath)
	if os.IsNotExist(err) {
		return &TrainOutput{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out TrainOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse trainer result: %w", err)
	}
	return &out, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
