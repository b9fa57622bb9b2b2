package dependency

import "context"

// DependencyExecutor defines the interface for executing external commands.
//
// Implementations:
//   - LocalExecutor: Executes commands directly using exec.CommandContext
//   - tests use a recording fake
type DependencyExecutor interface {
	// ExecuteCommand executes a command with the given request.
	// A non-zero exit is reported both in the response and as an error.
	//
	// If the context is cancelled, the command's process group is killed.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck verifies that the configured programs can be resolved.
	HealthCheck(ctx context.Context) error
}
