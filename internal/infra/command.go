// Package infra implements infrastructure concerns (processes, sockets, HTTP, storage).
package infra

import (
	"context"
	"os/exec"
	"time"
)

// DefaultCommandTimeout bounds every external discovery command.
const DefaultCommandTimeout = 5 * time.Second

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands with a timeout.
type RealCommandRunner struct {
	Timeout time.Duration
}

// NewCommandRunner creates a runner; a zero timeout uses DefaultCommandTimeout.
func NewCommandRunner(timeout time.Duration) *RealCommandRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &RealCommandRunner{Timeout: timeout}
}

// Output executes a command and returns its stdout.
// The process is killed when the timeout or ctx expires.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil // Prevent any interactive prompts
	return cmd.Output()
}

var _ CommandRunner = (*RealCommandRunner)(nil)
