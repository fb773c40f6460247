// Package action executes the configured shell command when the watcher
// detects a matching log line, then holds the caller for a quiescence period
// so that a burst of matching events cannot stack up repeated invocations.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Result describes a completed command invocation.
type Result struct {
	// ExitCode is the command's exit status. It is -1 when the process could
	// not be started or was terminated by a signal.
	ExitCode int
	// Duration is the wall-clock time the command ran, excluding the
	// quiescence wait.
	Duration time.Duration
}

// Runner runs the configured command through the shell. It is stateless and
// safe for concurrent use, though the watch loop invokes it from a single
// goroutine by design.
type Runner struct {
	command string
	wait    time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner for command. wait is the quiescence period
// applied after each invocation; zero disables it.
func NewRunner(command string, wait time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		command: command,
		wait:    wait,
		logger:  logger,
	}
}

// Command returns the configured command line.
func (r *Runner) Command() string {
	return r.command
}

// Run executes the command via "sh -c" and blocks until it finishes, then
// sleeps for the configured quiescence period. Captured stdout and stderr are
// logged after completion, and a non-zero exit status is logged at warn level
// rather than returned: the only error condition is failing to start the
// process at all.
//
// Cancelling ctx cuts the quiescence wait short but never kills a command
// that has already started; remediation actions must not be interrupted
// halfway through.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	r.logger.Info("action: running command", slog.String("command", r.command))

	cmd := exec.Command("sh", "-c", r.command)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{ExitCode: 0, Duration: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("action: start command %q: %w", r.command, err)
		}
		res.ExitCode = exitErr.ExitCode()
		r.logger.Warn("action: command exited non-zero",
			slog.String("command", r.command),
			slog.Int("exit_code", res.ExitCode),
		)
	}

	if out := strings.TrimRight(stdout.String(), "\n"); out != "" {
		r.logger.Info("action: command stdout", slog.String("output", out))
	}
	if out := strings.TrimRight(stderr.String(), "\n"); out != "" {
		r.logger.Warn("action: command stderr", slog.String("output", out))
	}

	r.sleep(ctx)
	return res, nil
}

// sleep blocks for the quiescence period or until ctx is cancelled.
func (r *Runner) sleep(ctx context.Context) {
	if r.wait <= 0 {
		return
	}
	timer := time.NewTimer(r.wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
