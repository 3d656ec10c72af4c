package lipsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/outcome"
)

var errUnavailable = errors.New("lip-sync environment unavailable")

// Fallback runs lip-sync in production mode when the environment is
// available. Otherwise, and on any failure, it returns the input clip
// marked as degraded.
type Fallback struct {
	mode   config.ServiceMode
	syncer Syncer
	doctor *CachedDoctor
	logger *slog.Logger
}

// NewFallback creates a Fallback. syncer and doctor may be nil.
func NewFallback(mode config.ServiceMode, syncer Syncer, doctor *CachedDoctor, logger *slog.Logger) *Fallback {
	return &Fallback{
		mode:   mode,
		syncer: syncer,
		doctor: doctor,
		logger: logging.WithComponent(logging.OrDiscard(logger), "lipsync"),
	}
}

// LipSync returns the path of the clip to use for req.
func (f *Fallback) LipSync(ctx context.Context, req Request) (outcome.Result[string], error) {
	if f.mode.IsDemo() {
		return outcome.Degrade(req.Video, outcome.ReasonDemoMode, nil), nil
	}
	if f.syncer == nil {
		return outcome.Degrade(req.Video, outcome.ReasonUnavailable, errUnavailable), nil
	}
	if f.doctor != nil {
		caps, err := f.doctor.Get(ctx)
		if err != nil || !caps.Available() {
			if err == nil {
				err = errUnavailable
			}
			return outcome.Degrade(req.Video, outcome.ReasonUnavailable, err), nil
		}
	}

	out, err := f.syncer.Sync(ctx, req)
	if err == nil {
		return outcome.Real(out), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome.Result[string]{}, ctxErr
	}

	reason := outcome.ReasonProviderFailed
	if errors.Is(err, media.ErrTimedOut) {
		reason = outcome.ReasonTimedOut
	}
	f.logger.Warn("lip-sync failed, keeping un-synced clip", "reason", reason, "error", err)
	return outcome.Degrade(req.Video, reason, err), nil
}
