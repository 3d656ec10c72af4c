package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/logging"
)

// Runner polls for pending videos and executes up to Workers of them at
// once. Each execution gets its own scratch directory from the pipeline.
type Runner struct {
	service      *Service
	repo         Repository
	logger       *slog.Logger
	pollInterval time.Duration
	workers      int

	slots   chan struct{}
	wake    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	paused  atomic.Bool
	active  atomic.Int32
}

func NewRunner(service *Service, repo Repository, workers int, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = config.DefaultWorkers
	}
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}
	return &Runner{
		service:      service,
		repo:         repo,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "runner"),
		pollInterval: pollInterval,
		workers:      workers,
		slots:        make(chan struct{}, workers),
		wake:         make(chan struct{}, 1),
	}
}

// Start blocks until ctx is cancelled, then waits for in-flight videos.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	r.logger.Info("video runner started", "workers", r.workers)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("video runner stopping", "active", r.active.Load())
			r.wg.Wait()
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			r.dispatch(ctx)
		}
	}
}

// Wake asks the runner to poll now instead of at the next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("video runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("video runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool  { return r.paused.Load() }
func (r *Runner) IsRunning() bool { return r.running.Load() }

// Active returns the number of videos being executed.
func (r *Runner) Active() int { return int(r.active.Load()) }

// dispatch claims as many pending videos as there are free workers.
func (r *Runner) dispatch(ctx context.Context) {
	free := r.workers - len(r.slots)
	if free <= 0 {
		return
	}

	videos, err := r.repo.ListPendingVideos(ctx, free)
	if err != nil {
		r.logger.Error("failed to list pending videos", "error", err)
		return
	}

	for _, v := range videos {
		claimed, err := r.repo.ClaimVideo(ctx, v.ID)
		if err != nil {
			r.logger.Error("failed to claim video", "video_id", v.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		v.Status = VideoStatusProcessing

		r.slots <- struct{}{}
		r.active.Add(1)
		r.wg.Add(1)
		v := v
		go func() {
			defer func() {
				r.active.Add(-1)
				<-r.slots
				r.wg.Done()
				r.Wake()
			}()
			// Errors are persisted on the video by ExecuteVideo.
			_ = r.service.ExecuteVideo(ctx, v)
		}()
	}
}
