// Package archive runs an external archive listing tool (unzip -l by
// default) and captures its standard output.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Lister lists the contents of an archive.
type Lister interface {
	List(ctx context.Context, path string) (string, error)
}

// StartError reports that the lister process could not be started.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("archive: start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// RunError reports that the lister process started but did not succeed.
type RunError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *RunError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("archive: %s: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("archive: %s: %v", e.Command, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// CommandOptions configures a CommandLister.
type CommandOptions struct {
	Command    string
	Args       []string      // placed before the archive path
	Timeout    time.Duration // per attempt
	Retries    int           // extra attempts after a RunError
	RetryDelay time.Duration
}

// DefaultCommandOptions returns the unzip -l invocation.
func DefaultCommandOptions() CommandOptions {
	return CommandOptions{
		Command:    "unzip",
		Args:       []string{"-l"},
		Timeout:    30 * time.Second,
		Retries:    1,
		RetryDelay: 500 * time.Millisecond,
	}
}

// CommandLister runs an external command per archive.
type CommandLister struct {
	opts CommandOptions
}

// Compile-time check that CommandLister implements Lister.
var _ Lister = (*CommandLister)(nil)

// NewCommandLister creates a CommandLister. Zero-valued options fall back to
// DefaultCommandOptions.
func NewCommandLister(opts CommandOptions) *CommandLister {
	def := DefaultCommandOptions()
	if opts.Command == "" {
		opts.Command = def.Command
		opts.Args = def.Args
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &CommandLister{opts: opts}
}

// List runs the command against path and returns its trimmed stdout.
// Start failures are returned immediately; run failures are retried up to
// Retries times.
func (l *CommandLister) List(ctx context.Context, path string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= l.opts.Retries; attempt++ {
		if attempt > 0 {
			slog.Info("[ARCHIVE] retrying", "path", path, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.opts.RetryDelay):
			}
		}

		out, err := l.runOnce(ctx, path)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var startErr *StartError
		if errors.As(err, &startErr) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (l *CommandLister) runOnce(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	args := append(append([]string(nil), l.opts.Args...), path)
	cmd := exec.CommandContext(ctx, l.opts.Command, args...) //nolint:gosec // command comes from user config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return "", &StartError{Command: l.opts.Command, Err: err}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", l.opts.Timeout, err)
		}
		return "", &RunError{Command: l.opts.Command, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}
