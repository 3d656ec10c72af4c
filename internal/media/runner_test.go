package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got, want := buf.String(), " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestToolError_MatchesSentinel(t *testing.T) {
	err := error(&ToolError{Tool: "ffmpeg", ExitCode: 1, Stderr: "boom"})
	if !errors.Is(err, ErrExternalTool) {
		t.Fatal("ToolError should match ErrExternalTool")
	}
	if errors.Is(err, ErrTimedOut) {
		t.Fatal("ToolError should not match ErrTimedOut")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Error() = %q, want stderr tail", err.Error())
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	r := NewExecRunner(nil)

	res, err := r.Run(context.Background(), sh, "-c", "echo boom >&2; exit 3")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != 3 || res.ExitCode != 3 {
		t.Errorf("exit code = %d/%d, want 3", toolErr.ExitCode, res.ExitCode)
	}
	if !strings.Contains(toolErr.Stderr, "boom") {
		t.Errorf("stderr tail = %q", toolErr.Stderr)
	}
}

func TestExecRunner_CapturesStdout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	res, err := NewExecRunner(nil).Run(context.Background(), sh, "-c", "printf '{\"ok\":true}'")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != `{"ok":true}` {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestExecRunner_KillsAtDeadline(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = NewExecRunner(nil).Run(ctx, sleep, "10")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process not killed promptly: %v", elapsed)
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := NewExecRunner(nil).Run(context.Background(), "/nonexistent/ffmpeg-binary")
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("err = %v, want ErrExternalTool", err)
	}
}

func TestTool_AppliesTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	runner := runnerFunc(func(ctx context.Context, name string, args ...string) (RunResult, error) {
		deadline, ok = ctx.Deadline()
		return RunResult{}, nil
	})
	tl := tool{path: "ffmpeg", runner: runner, timeout: 30 * time.Second}

	if _, err := tl.run(context.Background(), "probe"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ok || time.Until(deadline) > 30*time.Second {
		t.Errorf("deadline not applied: ok=%v deadline=%v", ok, deadline)
	}
}

type runnerFunc func(ctx context.Context, name string, args ...string) (RunResult, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	return f(ctx, name, args...)
}
