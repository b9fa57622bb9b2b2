package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// ExecTool drives the "checkpoint" collaborator command:
//
//	checkpoint inspect <path>                       -> Manifest JSON on stdout
//	checkpoint prune <src> <dst> --plan <plan.json>
type ExecTool struct {
	executor dependency.DependencyExecutor
	command  string
	timeout  time.Duration
}

// NewExecTool creates an ExecTool.
func NewExecTool(executor dependency.DependencyExecutor) *ExecTool {
	return &ExecTool{executor: executor, command: "checkpoint", timeout: 30 * time.Minute}
}

// Inspect implements Tool.
func (t *ExecTool) Inspect(ctx context.Context, path string) (*Manifest, error) {
	resp, err := t.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: t.command,
		Args:    []string{"inspect", path},
		Timeout: t.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w: %s", filepath.Base(path), err, resp.Stderr)
	}
	var m Manifest
	if err := json.Unmarshal([]byte(resp.Stdout), &m); err != nil {
		return nil, fmt.Errorf("parse checkpoint manifest: %w", err)
	}
	return &m, nil
}

// Prune implements Tool. The plan is passed through a file next to dst.
func (t *ExecTool) Prune(ctx context.Context, src, dst string, plan PrunePlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	planPath := dst + ".plan.json"
	if err := utils.WriteFileAtomic(planPath, data, 0644); err != nil {
		return err
	}
	defer os.Remove(planPath)

	resp, err := t.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: t.command,
		Args:    []string{"prune", src, dst, "--plan", planPath},
		Timeout: t.timeout,
	})
	if err != nil {
		return fmt.Errorf("prune %s: %w: %s", filepath.Base(src), err, resp.Stderr)
	}
	return nil
}
