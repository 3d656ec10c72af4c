// Package lipsync re-animates personalized clips with an external Wav2Lip
// process so mouth movement follows the synthesized speech.
package lipsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/metrics"
)

// Request asks for Video to be lip-synced to Audio, written to OutPath.
type Request struct {
	Video   string
	Audio   string
	OutPath string
}

// Syncer produces a lip-synced clip.
type Syncer interface {
	Sync(ctx context.Context, req Request) (string, error)
}

// Config holds the Wav2Lip runner's configuration.
type Config struct {
	PythonPath string        // path to python binary; empty = auto-detect
	Script     string        // inference script, invoked as `python <script> --video --audio --output`
	Checkpoint string        // model weights; passed as --checkpoint when set
	Timeout    time.Duration // per-clip ceiling
	Runner     media.CommandRunner
	Logger     *slog.Logger
}

// Wav2Lip runs the Wav2Lip inference script as a subprocess.
type Wav2Lip struct {
	cfg    Config
	python string
	logger *slog.Logger
}

var _ Syncer = (*Wav2Lip)(nil)

// NewWav2Lip creates a runner, resolving the Python binary path.
func NewWav2Lip(cfg Config) (*Wav2Lip, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if cfg.Script == "" {
		return nil, fmt.Errorf("no wav2lip script configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "lipsync")
	if cfg.Runner == nil {
		cfg.Runner = media.NewExecRunner(logger)
	}

	logger.Info("lip-sync runner initialised",
		"python", python,
		"script", logging.SanitizePath(cfg.Script),
		"timeout", cfg.Timeout,
	)
	return &Wav2Lip{cfg: cfg, python: python, logger: logger}, nil
}

// Python returns the resolved interpreter path.
func (w *Wav2Lip) Python() string { return w.python }

// Sync runs inference for one clip. A run past the timeout is killed and
// reported as media.ErrTimedOut.
func (w *Wav2Lip) Sync(ctx context.Context, req Request) (string, error) {
	if err := os.MkdirAll(filepath.Dir(req.OutPath), 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	args := []string{w.cfg.Script,
		"--video", req.Video,
		"--audio", req.Audio,
		"--output", req.OutPath,
	}
	if w.cfg.Checkpoint != "" {
		args = append(args, "--checkpoint", w.cfg.Checkpoint)
	}

	w.logger.Info("executing lip-sync command", "video", filepath.Base(req.Video), "timeout", w.cfg.Timeout)

	res, err := w.cfg.Runner.Run(ctx, w.python, args...)
	metrics.RecordTool("lipsync", err)
	if err != nil {
		os.Remove(req.OutPath)
		return "", fmt.Errorf("lip-sync: %w", err)
	}

	info, err := os.Stat(req.OutPath)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("lip-sync: %w: no output written", media.ErrExternalTool)
	}

	w.logger.Info("lip-sync command succeeded",
		"duration_ms", res.Duration.Milliseconds(),
		"output", filepath.Base(req.OutPath),
	)
	return req.OutPath, nil
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}
