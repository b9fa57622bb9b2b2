package dependency

import (
	"context"
	"sync"
)

// FakeExecutor is a test double for components that drive collaborators.
// It records every request and delegates to Handler when set, otherwise it
// returns the preset response/error.
type FakeExecutor struct {
	mu sync.Mutex

	// Handler, when set, computes the response for each request. Handlers may
	// create files to simulate the side effects of the real collaborator.
	Handler func(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// ResponseToReturn is the preset response returned by ExecuteCommand.
	ResponseToReturn CommandResponse

	// ErrorToReturn is the preset error returned by ExecuteCommand and HealthCheck.
	ErrorToReturn error

	executed []CommandRequest
}

// ExecuteCommand records the command and returns the handler's or preset response.
func (f *FakeExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	f.mu.Lock()
	f.executed = append(f.executed, req)
	handler := f.Handler
	f.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	return f.ResponseToReturn, f.ErrorToReturn
}

// HealthCheck returns the preset error.
func (f *FakeExecutor) HealthCheck(ctx context.Context) error {
	return f.ErrorToReturn
}

// Executed returns a copy of the recorded requests.
func (f *FakeExecutor) Executed() []CommandRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CommandRequest(nil), f.executed...)
}

// Commands returns the logical command names in execution order.
func (f *FakeExecutor) Commands() []string {
	reqs := f.Executed()
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Command
	}
	return names
}
