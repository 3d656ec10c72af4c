package media

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
)

// fakeRunner records invocations and writes a payload of outBytes to the
// last argument, which is the output path for every ffmpeg call.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	outBytes int
	noWrite  bool
	stdout   []byte
	err      error
	onRun    func(args []string)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(args)
	}
	if f.err != nil {
		return RunResult{ExitCode: 1}, f.err
	}
	if !f.noWrite && len(args) > 0 {
		if err := os.WriteFile(args[len(args)-1], bytes.Repeat([]byte("x"), f.outBytes), 0644); err != nil {
			return RunResult{ExitCode: 1}, err
		}
	}
	return RunResult{Stdout: f.stdout}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) call(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func writeFile(t testing.TB, path string, size int) string {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte("v"), size), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
