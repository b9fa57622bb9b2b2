package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// Separator strips background music and noise, returning the path of a vocals-only file.
type Separator interface {
	Separate(ctx context.Context, audioPath, workDir string) (string, error)
}

// DemucsSeparator runs demucs in two-stem mode through the dependency executor.
type DemucsSeparator struct {
	executor dependency.DependencyExecutor
	command  string
	model    string
	timeout  time.Duration
}

// NewDemucsSeparator creates a separator for the "demucs" command using the htdemucs model.
func NewDemucsSeparator(executor dependency.DependencyExecutor) *DemucsSeparator {
	return &DemucsSeparator{executor: executor, command: "demucs", model: "htdemucs", timeout: time.Hour}
}

// Separate returns <workDir>/<stem>_vocals.wav; demucs' nested output tree is removed.
func (s *DemucsSeparator) Separate(ctx context.Context, audioPath, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", err
	}
	resp, err := s.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: s.command,
		Args:    []string{"--two-stems", "vocals", "-n", s.model, "-o", workDir, audioPath},
		Timeout: s.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("separation of %s failed: %w: %s", filepath.Base(audioPath), err, resp.Stderr)
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	vocals := filepath.Join(workDir, s.model, stem, "vocals.wav")
	if _, err := os.Stat(vocals); err != nil {
		return "", fmt.Errorf("separation produced no vocals track for %s: %w", filepath.Base(audioPath), err)
	}
	dst := filepath.Join(workDir, stem+"_vocals.wav")
	if err := utils.MoveFile(vocals, dst); err != nil {
		return "", err
	}
	os.RemoveAll(filepath.Join(workDir, s.model, stem))
	return dst, nil
}
