package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// Finisher produces derived artifacts from a finished video.
type Finisher struct {
	tool           tool
	minOutputBytes int64
}

// NewFinisher creates a Finisher.
func NewFinisher(ffmpegPath string, runner CommandRunner, timeout time.Duration, minOutputBytes int64, logger *slog.Logger) *Finisher {
	if minOutputBytes == 0 {
		minOutputBytes = DefaultMinOutputBytes
	}
	return &Finisher{
		tool: tool{
			path:    ffmpegPath,
			runner:  runner,
			timeout: timeout,
			logger:  logging.OrDiscard(logger),
		},
		minOutputBytes: minOutputBytes,
	}
}

// Thumbnail grabs a single JPEG frame at offset seconds.
func (f *Finisher) Thumbnail(ctx context.Context, video string, offset float64, out string) (string, error) {
	if err := checkInputs(video); err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	err := f.tool.produce(ctx, "thumbnail", out,
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(offset), "-i", video,
		"-vframes", "1", "-q:v", "2",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Overlay burns text into the bottom of the frame for the first `until`
// seconds (the whole clip when until is 0). Audio is copied.
func (f *Finisher) Overlay(ctx context.Context, video, text string, until float64, out string) (string, error) {
	if err := checkInputs(video); err != nil {
		return "", fmt.Errorf("overlay: %w", err)
	}

	filter := "drawtext=text='" + EscapeDrawText(text) + "'" +
		":fontsize=48:fontcolor=white" +
		":box=1:boxcolor=black@0.5:boxborderw=12" +
		":x=(w-text_w)/2:y=h-text_h-60"
	if until > 0 {
		filter += ":enable='between(t,0," + seconds(until) + ")'"
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", video, "-vf", filter}
	args = append(args, videoEncodeArgs...)
	args = append(args, "-c:a", "copy", "-movflags", "+faststart", out)

	if err := f.tool.produce(ctx, "overlay", out, args...); err != nil {
		return "", err
	}
	if _, err := checkOutputSize(out, f.minOutputBytes); err != nil {
		return "", fmt.Errorf("overlay: %w", err)
	}
	return out, nil
}

var drawTextEscaper = strings.NewReplacer(
	`\`, `\\\\`,
	`'`, `'\\\''`,
	`:`, `\:`,
	`%`, `\%`,
)

// EscapeDrawText escapes text for use inside a quoted drawtext value.
func EscapeDrawText(text string) string {
	return drawTextEscaper.Replace(text)
}
