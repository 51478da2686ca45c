package wifi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Output is the captured result of a finished host command.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Success reports whether the command exited with status zero.
func (o *Output) Success() bool {
	return o.ExitCode == 0
}

// Runner executes host commands. A command that ran and exited non-zero is
// not an error: the Output carries the exit code and diagnostics.
type Runner interface {
	// Run executes name with args and waits for it to finish.
	// Returns an error wrapping ErrCommandExecution if it could not be started.
	Run(ctx context.Context, name string, args ...string) (*Output, error)
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command with exec.CommandContext; cancelling ctx kills it.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	// #nosec G204 -- name comes from configuration, args are built by this package
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCommandExecution, name, ctxErr)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrCommandExecution, name, err)
}
