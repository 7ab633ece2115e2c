// Package executor runs external programs (the container CLI) on behalf of
// the agent.
//
// A Command may carry a Stdin payload. The payload is written to the child's
// standard input and nowhere else: it is never added to argv or the
// environment, never logged, and scrubbed from captured stderr before the
// output leaves this package. Registry passwords must travel this way so they
// stay out of process listings.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/funai-studio/runtime-agent/common/redact"
	"github.com/funai-studio/runtime-agent/common/trace"
)

// maxOutputBytes caps each captured stream.
const maxOutputBytes = 1 << 20

// DefaultTimeout bounds a command that does not set its own Timeout.
const DefaultTimeout = 2 * time.Minute

// exitNotFound mirrors the shell's code for a missing binary.
const exitNotFound = 127

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	// Stdin is the private input payload. It is never logged.
	Stdin []byte
	// Timeout bounds the run; zero means DefaultTimeout.
	Timeout time.Duration
	// AllowFailure returns a non-zero exit as a Result instead of an
	// ExecutionError. Timeouts and spawn failures are still errors.
	AllowFailure bool
}

// String renders the command for logs with secret-looking flags masked.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, redact.Args(c.Args)...), " ")
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecutionError reports a command that exited non-zero, timed out, or could
// not be started.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out", e.Command)
	case e.Stderr != "":
		return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("%s: exit %d: %v", e.Command, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("%s: exit %d", e.Command, e.ExitCode)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Reason returns the most useful single line for a caller-facing message.
func (e *ExecutionError) Reason() string {
	if e.TimedOut {
		return "timed out"
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if i := strings.LastIndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		return s
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.ExitCode)
}

// Executor runs commands. Implementations block until the process exits.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OS spawns real processes with os/exec.
type OS struct {
	// Env, when non-nil, replaces the child's environment.
	Env []string
}

// NewOS returns an executor that inherits the agent's environment.
func NewOS() *OS { return &OS{} }

// Run implements Executor.
func (o *OS) Run(ctx context.Context, c Command) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = &limitWriter{buf: &stdout, limit: maxOutputBytes}
	cmd.Stderr = &limitWriter{buf: &stderr, limit: maxOutputBytes}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	if o.Env != nil {
		cmd.Env = o.Env
	}
	// Give the child a moment to exit after SIGKILL before Wait gives up on
	// its pipes.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   redact.String(stderr.String(), string(c.Stdin), strings.TrimSpace(string(c.Stdin))),
		Duration: time.Since(start),
	}

	log := slog.With("cmd", c.String(), "trace_id", trace.FromContext(ctx))

	if runErr == nil {
		log.Debug("executor: command finished", "duration", res.Duration)
		return res, nil
	}

	execErr := &ExecutionError{Command: c.String(), Stderr: strings.TrimSpace(res.Stderr), Err: runErr}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		execErr.TimedOut = true
		execErr.ExitCode = -1
		res.ExitCode = -1
		log.Warn("executor: command timed out", "timeout", timeout)
		return res, execErr
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		execErr.ExitCode = res.ExitCode
	case errors.Is(runErr, exec.ErrNotFound):
		res.ExitCode = exitNotFound
		execErr.ExitCode = exitNotFound
		return res, execErr
	default:
		res.ExitCode = -1
		execErr.ExitCode = -1
		return res, execErr
	}

	if c.AllowFailure {
		log.Debug("executor: command failed (tolerated)", "exit_code", res.ExitCode)
		return res, nil
	}
	log.Debug("executor: command failed", "exit_code", res.ExitCode)
	return res, execErr
}

// limitWriter stops buffering after limit bytes but reports full writes so
// the child is never blocked on a full pipe.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
	n     int
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.n
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, err := lw.buf.Write(toWrite)
	lw.n += n
	return len(p), err
}
