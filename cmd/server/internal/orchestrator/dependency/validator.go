package dependency

import (
	"fmt"
	"strings"
)

// ValidateCommandRequest performs security checks before command execution:
//  1. Command whitelist (if configured)
//  2. Argument safety (no access to system directories)
//
// Arguments are passed to exec directly, never through a shell.
func ValidateCommandRequest(req CommandRequest, config ExecutorConfig) error {
	if req.Command == "" {
		return fmt.Errorf("command name is empty")
	}

	if len(config.AllowedCommands) > 0 {
		allowed := false
		for _, cmd := range config.AllowedCommands {
			if req.Command == cmd {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("command %s is not in whitelist (allowed: %v)", req.Command, config.AllowedCommands)
		}
	}

	dangerousPrefixes := []string{"/etc/", "/sys/", "/proc/", "/dev/"}
	for _, arg := range req.Args {
		for _, prefix := range dangerousPrefixes {
			if strings.HasPrefix(arg, prefix) {
				return fmt.Errorf("argument attempts to access forbidden system directory %s: %s", prefix, arg)
			}
		}
	}

	return nil
}
