package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Command is an external program invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is the complete child environment; nil inherits the parent's.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// ExecRunner runs commands with os/exec, streaming their output.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

// NewExecRunner streams child output to the process's own stdout and stderr.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}
}

// Run blocks until the command exits.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if r.Logger != nil {
		r.Logger.Info("running command", zap.String("command", c.String()), zap.String("dir", c.Dir))
	}

	start := time.Now()
	err := cmd.Run()
	if r.Logger != nil {
		r.Logger.Debug("command finished", zap.String("command", c.String()), zap.Duration("duration", time.Since(start)))
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: c.String(), Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("run %s: %w", c.Name, err)
}
