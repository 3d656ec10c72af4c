package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/metrics"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	killGrace      = 5 * time.Second
)

// RunResult is the structured outcome of one subprocess run.
type RunResult struct {
	ExitCode   int
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// CommandRunner runs an external command to completion.
// Implementations return ErrTimedOut when ctx expires and a *ToolError on a
// non-zero exit.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (RunResult, error)
}

// ExecRunner is the os/exec implementation of CommandRunner.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logging.OrDiscard(logger)}
}

var _ CommandRunner = (*ExecRunner)(nil)

// Run executes name with args. Stdout is captured in full; stderr keeps the tail.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = killGrace

	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	deadline, _ := ctx.Deadline()
	r.logger.Debug("executing command", "tool", filepath.Base(name), "args", args, "deadline", deadline)

	err := cmd.Run()
	res := RunResult{
		Stdout:     stdout.Bytes(),
		StderrTail: stderrBuf.String(),
		Duration:   time.Since(start),
	}

	if err == nil {
		r.logger.Debug("command succeeded", "tool", filepath.Base(name), "duration_ms", res.Duration.Milliseconds())
		return res, nil
	}

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		res.ExitCode = -1
		r.logger.Warn("command killed at deadline",
			"tool", filepath.Base(name),
			"duration_ms", res.Duration.Milliseconds(),
		)
		return res, fmt.Errorf("%s after %s: %w", filepath.Base(name), res.Duration.Round(time.Millisecond), ErrTimedOut)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}

	r.logger.Warn("command failed",
		"tool", filepath.Base(name),
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
		"stderr_tail", truncate(res.StderrTail, 512),
	)

	return res, &ToolError{
		Tool:     filepath.Base(name),
		ExitCode: res.ExitCode,
		Stderr:   res.StderrTail,
		Err:      err,
	}
}

// tool binds a binary to a runner and a per-invocation deadline.
type tool struct {
	path    string
	runner  CommandRunner
	timeout time.Duration
	logger  *slog.Logger
}

// run executes the tool under its deadline and records the outcome.
func (t tool) run(ctx context.Context, op string, args ...string) (RunResult, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	res, err := t.runner.Run(ctx, t.path, args...)
	metrics.RecordTool(op, err)
	return res, err
}

// produce runs the tool to create out, creating the parent directory first
// and removing any partial file on failure.
func (t tool) produce(ctx context.Context, op, out string, args ...string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("%s: create output dir: %w", op, err)
	}
	if _, err := t.run(ctx, op, args...); err != nil {
		os.Remove(out)
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("%s: %w: %s wrote no output", op, ErrExternalTool, filepath.Base(t.path))
	}
	t.logger.Debug("media step produced output", "op", op, "output", logging.SanitizePath(out))
	return nil
}

// checkInputs fails with ErrInputNotFound when any path is missing or zero-length.
func checkInputs(paths ...string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInputNotFound, p)
		}
		if info.IsDir() || info.Size() == 0 {
			return fmt.Errorf("%w: %s is empty", ErrInputNotFound, p)
		}
	}
	return nil
}

// checkOutputSize fails with ErrOutputTooSmall when out is below min bytes.
func checkOutputSize(out string, min int64) (int64, error) {
	info, err := os.Stat(out)
	if err != nil {
		return 0, fmt.Errorf("%w: %s missing", ErrOutputTooSmall, out)
	}
	if info.Size() < min {
		return info.Size(), fmt.Errorf("%w: %s is %d bytes, want at least %d", ErrOutputTooSmall, filepath.Base(out), info.Size(), min)
	}
	return info.Size(), nil
}

// seconds formats a time offset for ffmpeg arguments.
func seconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
