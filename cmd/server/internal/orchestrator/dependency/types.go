// Package dependency provides an abstraction layer for executing the external
// ML collaborators (whisper, ffmpeg, demucs, the XTTS trainer, checkpoint tool).
package dependency

import "time"

// CommandRequest encapsulates all information needed to execute a command.
type CommandRequest struct {
	// Command is the logical command name (e.g., "ffmpeg", "trainer").
	Command string `json:"command" yaml:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args" yaml:"args"`

	// Env contains extra environment variables.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// WorkingDir is the directory to execute the command in (default: current dir).
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Timeout is the maximum execution duration (0 means DefaultTimeout).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// StdoutLimit keeps only the last StdoutLimit bytes of stdout (0 keeps all).
	StdoutLimit int `json:"stdout_limit,omitempty" yaml:"stdout_limit,omitempty"`

	// OnOutput, when set, receives every stdout and stderr line as it is produced.
	OnOutput func(line string) `json:"-" yaml:"-"`
}

// CommandResponse contains the result of a command execution.
type CommandResponse struct {
	// Success indicates if the command completed without errors.
	Success bool `json:"success" yaml:"success"`

	// ExitCode is the process exit code (0 typically means success).
	ExitCode int `json:"exit_code" yaml:"exit_code"`

	// Stdout contains the standard output of the command.
	Stdout string `json:"stdout" yaml:"stdout"`

	// Stderr holds the tail of standard error (bounded by MaxStderrBytes).
	Stderr string `json:"stderr" yaml:"stderr"`

	// Duration is the actual execution time.
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
}

// ExecutorConfig defines the configuration for dependency execution.
type ExecutorConfig struct {
	// Binaries maps logical command names to a program and fixed leading
	// arguments, e.g. {"trainer": ["python3", "scripts/train_gpt.py"]}.
	Binaries map[string][]string `json:"binaries" yaml:"binaries"`

	// Env is added to every command's environment.
	Env map[string]string `json:"env" yaml:"env"`

	// DefaultTimeout is the default execution timeout (0 means none).
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// AllowedCommands lists the commands that are permitted to execute.
	// Empty list means allow all.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`
}

// MaxStderrBytes bounds how much stderr is kept in CommandResponse.
// Trainer logs run to megabytes; only the tail is useful for summaries.
const MaxStderrBytes = 64 * 1024
