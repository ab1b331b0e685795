package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/Azure/container-bootstrap/pkg/logger"
)

// Command describes one child process. Nil writers discard the stream; a nil Env
// inherits the current process environment.
type Command struct {
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// CommandRunner is an interface for executing commands
type CommandRunner interface {
	Run(ctx context.Context, c Command) error
}

// ExitError reports a child process that ran and exited with a non-zero status.
// Signals are reported the way a shell does, as 128 plus the signal number.
type ExitError struct {
	Args []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", strings.Join(e.Args, " "), e.Code)
}

// ExitCode returns the child's status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

type DefaultCommandRunner struct{}

var _ CommandRunner = &DefaultCommandRunner{}

func (d *DefaultCommandRunner) Run(ctx context.Context, c Command) error {
	if len(c.Args) == 0 {
		return errors.New("empty command")
	}
	logger.Debugf("Running command: %s (dir=%s)", c, c.Dir)

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitStatus(exitErr)
		logger.Debugf("Command %s exited with status %d", c, code)
		return &ExitError{Args: c.Args, Code: code}
	}
	return fmt.Errorf("failed to run %q: %w", c.String(), err)
}

func exitStatus(err *exec.ExitError) int {
	if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	if code := err.ExitCode(); code > 0 {
		return code
	}
	return 1
}

// FakeCommandRunner records commands instead of running them. Output is written to
// every command's Stdout. When FailOn is set only commands whose joined arguments
// contain it fail; otherwise every command fails once ErrStr or ExitCode is set.
type FakeCommandRunner struct {
	Output   string
	ErrStr   string
	ExitCode int
	FailOn   string
	Calls    []Command
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) Run(_ context.Context, c Command) error {
	f.Calls = append(f.Calls, c)
	if f.Output != "" && c.Stdout != nil {
		if _, err := io.WriteString(c.Stdout, f.Output); err != nil {
			return err
		}
	}
	if f.FailOn != "" && !strings.Contains(c.String(), f.FailOn) {
		return nil
	}
	if f.ExitCode != 0 {
		return &ExitError{Args: c.Args, Code: f.ExitCode}
	}
	if f.ErrStr != "" {
		return errors.New(f.ErrStr)
	}
	return nil
}

// Invoked returns the argument lists of every recorded call, joined by spaces.
func (f *FakeCommandRunner) Invoked() []string {
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.String())
	}
	return out
}
