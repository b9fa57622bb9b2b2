package dependency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/houzhh15/xtts-webui/pkg/logger"
	"github.com/houzhh15/xtts-webui/pkg/metrics"
)

// LocalExecutor executes commands directly on the local system using exec.CommandContext.
type LocalExecutor struct {
	config ExecutorConfig
}

// NewLocalExecutor creates a new LocalExecutor with the given configuration.
func NewLocalExecutor(config ExecutorConfig) *LocalExecutor {
	return &LocalExecutor{config: config}
}

// ExecuteCommand executes a command locally and returns the result.
func (e *LocalExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if err := ValidateCommandRequest(req, e.config); err != nil {
		metrics.RecordCommandExecution(req.Command, "rejected")
		return CommandResponse{}, err
	}

	// 1. Resolve program and fixed leading args
	program, lead, err := e.resolve(req.Command)
	if err != nil {
		return CommandResponse{}, fmt.Errorf("failed to resolve binary path for %s: %w", req.Command, err)
	}

	// 2. Create timeout context
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// 3. Build command
	args := append(append([]string{}, lead...), req.Args...)
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Env = append(os.Environ(), buildEnvSlice(e.config.Env)...)
	cmd.Env = append(cmd.Env, buildEnvSlice(req.Env)...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}

	// 4. Own process group so the whole tree dies on cancel
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout := newLineWriter(req.OnOutput, req.StdoutLimit)
	stderr := newLineWriter(req.OnOutput, MaxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.L().Debug("executing collaborator command", "command", req.Command, "program", program, "args", args)

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)
	stdout.flush()
	stderr.flush()

	resp := CommandResponse{
		Success:  err == nil,
		ExitCode: exitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.RecordCommandExecution(req.Command, "timeout")
		return resp, fmt.Errorf("command execution timeout (%v): %s", timeout, req.Command)
	case err != nil:
		metrics.RecordCommandExecution(req.Command, "failed")
		return resp, fmt.Errorf("%s exited with code %d: %w", req.Command, resp.ExitCode, err)
	}

	metrics.RecordCommandExecution(req.Command, "success")
	return resp, nil
}

// HealthCheck verifies that all configured programs are available.
func (e *LocalExecutor) HealthCheck(ctx context.Context) error {
	names := make([]string, 0, len(e.config.Binaries))
	for name := range e.config.Binaries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, err := e.resolve(name); err != nil {
			return fmt.Errorf("local command %s not available: %w", name, err)
		}
	}
	return nil
}

// resolve resolves the program from config or PATH.
func (e *LocalExecutor) resolve(command string) (string, []string, error) {
	// Priority 1: Use configured program
	if argv, ok := e.config.Binaries[command]; ok && len(argv) > 0 {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			return "", nil, err
		}
		return path, argv[1:], nil
	}
	// Priority 2: Fall back to PATH lookup
	path, err := exec.LookPath(command)
	return path, nil, err
}

// buildEnvSlice converts environment map to slice format.
func buildEnvSlice(envMap map[string]string) []string {
	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// exitCode extracts exit code from error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
