package lipsync

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/personaliz/personaliz-server/internal/media"
)

const (
	defaultCacheTTL = 5 * time.Minute
	doctorTimeout   = 30 * time.Second
)

// Capabilities reports whether lip-sync can run on this host.
type Capabilities struct {
	Python       string    `json:"python"`
	ScriptFound  bool      `json:"script_found"`
	WeightsFound bool      `json:"weights_found"`
	DepsOK       bool      `json:"deps_ok"`
	Error        string    `json:"error,omitempty"`
	ProbedAt     time.Time `json:"probed_at"`
}

// Available reports whether every requirement is met.
func (c *Capabilities) Available() bool {
	return c != nil && c.ScriptFound && c.WeightsFound && c.DepsOK
}

// Checker probes the lip-sync environment.
type Checker struct {
	python     string
	script     string
	checkpoint string
	runner     media.CommandRunner
}

// NewChecker creates a Checker for the given runner's environment.
func NewChecker(w *Wav2Lip) *Checker {
	return &Checker{
		python:     w.python,
		script:     w.cfg.Script,
		checkpoint: w.cfg.Checkpoint,
		runner:     w.cfg.Runner,
	}
}

// Probe checks the script, weights and Python imports.
func (c *Checker) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{Python: c.python, ProbedAt: time.Now()}
	caps.ScriptFound = fileExists(c.script)
	caps.WeightsFound = c.checkpoint == "" || fileExists(c.checkpoint)

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	if _, err := c.runner.Run(ctx, c.python, "-c", "import cv2, torch, numpy"); err != nil {
		caps.Error = err.Error()
	} else {
		caps.DepsOK = true
	}
	return caps, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Prober is implemented by Checker and by test fakes.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor caches capability probes with a TTL so lip-sync availability
// is not re-probed for every clip.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around capability probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the cached capabilities without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("lip-sync probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale lip-sync capabilities")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}
