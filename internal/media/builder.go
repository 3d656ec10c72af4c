package media

import (
	"context"
	"log/slog"
	"time"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// Builder muxes a video-only clip with replacement audio.
type Builder struct {
	tool tool
}

// NewBuilder creates a Builder; timeout bounds each ffmpeg run.
func NewBuilder(ffmpegPath string, runner CommandRunner, timeout time.Duration, logger *slog.Logger) *Builder {
	return &Builder{tool: tool{
		path:    ffmpegPath,
		runner:  runner,
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
	}}
}

// Build copies the first video stream of videoOnly, encodes the first audio
// stream of audio to AAC and stops at the shorter of the two.
func (b *Builder) Build(ctx context.Context, videoOnly, audio, out string) (string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoOnly,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
	}
	args = append(args, audioEncodeArgs...)
	args = append(args, "-shortest", out)

	if err := b.tool.produce(ctx, "build", out, args...); err != nil {
		return "", err
	}
	return out, nil
}
