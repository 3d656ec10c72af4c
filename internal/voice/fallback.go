package voice

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/outcome"
)

// Fallback calls the real provider in production mode and substitutes
// fallback audio when the mode is demo, no provider is configured, or the
// provider fails. Only a failure to produce the fallback itself is an error.
type Fallback struct {
	mode        config.ServiceMode
	primary     Provider
	placeholder Provider
	logger      *slog.Logger
}

// NewFallback creates a Fallback. primary may be nil.
func NewFallback(mode config.ServiceMode, primary Provider, logger *slog.Logger) *Fallback {
	return &Fallback{
		mode:        mode,
		primary:     primary,
		placeholder: Placeholder{},
		logger:      logging.WithComponent(logging.OrDiscard(logger), "voice"),
	}
}

// Synthesize returns the path of the audio to use for req.
func (f *Fallback) Synthesize(ctx context.Context, req Request) (outcome.Result[string], error) {
	switch {
	case f.mode.IsDemo():
		return f.fallback(ctx, req, outcome.ReasonDemoMode, nil)
	case f.primary == nil:
		return f.fallback(ctx, req, outcome.ReasonUnavailable, errors.New("no tts provider configured"))
	}

	path, err := f.primary.Synthesize(ctx, req)
	if err == nil {
		return outcome.Real(path), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome.Result[string]{}, ctxErr
	}
	f.logger.Warn("tts provider failed, using fallback audio", "error", err)
	return f.fallback(ctx, req, outcome.ReasonProviderFailed, err)
}

func (f *Fallback) fallback(ctx context.Context, req Request, reason outcome.Reason, cause error) (outcome.Result[string], error) {
	if req.FallbackAudio != "" {
		if info, err := os.Stat(req.FallbackAudio); err == nil && info.Size() > 0 {
			return outcome.Degrade(req.FallbackAudio, reason, cause), nil
		}
	}
	path, err := f.placeholder.Synthesize(ctx, req)
	if err != nil {
		return outcome.Result[string]{}, err
	}
	return outcome.Degrade(path, reason, cause), nil
}
