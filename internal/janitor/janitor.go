// Package janitor removes stale scratch directories left by crashed or
// interrupted pipeline runs.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/metrics"
)

// Janitor sweeps a scratch root on a cron schedule.
type Janitor struct {
	root   string
	ttl    time.Duration
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Janitor that deletes entries of root older than ttl on the
// given cron spec (standard 5-field or descriptors such as "@every 30m").
func New(root string, ttl time.Duration, spec string, logger *slog.Logger) (*Janitor, error) {
	j := &Janitor{
		root:   root,
		ttl:    ttl,
		cron:   cron.New(),
		logger: logging.WithComponent(logging.OrDiscard(logger), "janitor"),
		now:    time.Now,
	}
	if _, err := j.cron.AddFunc(spec, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return j, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.cron.Start()
	j.logger.Info("janitor started", "root", logging.SanitizePath(j.root), "ttl", j.ttl)
	<-ctx.Done()
	<-j.cron.Stop().Done()
}

// Sweep deletes stale entries and returns how many were removed. Errors are
// logged and never returned.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("failed to read scratch root", "error", err)
		}
		return 0
	}

	cutoff := j.now().Add(-j.ttl)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("failed to remove stale scratch entry", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		metrics.ScratchSweepRemoved.Add(float64(removed))
		j.logger.Info("removed stale scratch entries", "count", removed)
	}
	return removed
}
