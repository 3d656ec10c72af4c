package media

import (
	"context"
	"log/slog"
	"time"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// Extractor cuts sub-clips out of a source video. Every cut is re-encoded so
// that clips start on a keyframe and share one codec profile.
type Extractor struct {
	tool tool
}

// NewExtractor creates an Extractor; timeout bounds each ffmpeg run.
func NewExtractor(ffmpegPath string, runner CommandRunner, timeout time.Duration, logger *slog.Logger) *Extractor {
	return &Extractor{tool: tool{
		path:    ffmpegPath,
		runner:  runner,
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
	}}
}

var (
	videoEncodeArgs = []string{"-c:v", "libx264", "-preset", "fast", "-pix_fmt", "yuv420p"}
	audioEncodeArgs = []string{"-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2"}
)

// Extract writes [start, start+duration) of src to out with video and audio.
// The source length is not checked; ffmpeg truncates past the end.
func (e *Extractor) Extract(ctx context.Context, src string, start, duration float64, out string) (string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-i", src, "-t", seconds(duration)}
	args = append(args, videoEncodeArgs...)
	args = append(args, audioEncodeArgs...)
	args = append(args, "-avoid_negative_ts", "make_zero", out)

	if err := e.tool.produce(ctx, "extract", out, args...); err != nil {
		return "", err
	}
	return out, nil
}

// ExtractWithSilence is Extract for sources without an audio track: the
// clip gets a silent stereo track so it concatenates with clips that carry
// audio.
func (e *Extractor) ExtractWithSilence(ctx context.Context, src string, start, duration float64, out string) (string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-i", src,
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", seconds(duration),
		"-map", "0:v:0", "-map", "1:a:0"}
	args = append(args, videoEncodeArgs...)
	args = append(args, audioEncodeArgs...)
	args = append(args, "-shortest", "-avoid_negative_ts", "make_zero", out)

	if err := e.tool.produce(ctx, "extract_silent", out, args...); err != nil {
		return "", err
	}
	return out, nil
}

// ExtractVideoOnly writes the video stream of [start, start+duration) to out.
func (e *Extractor) ExtractVideoOnly(ctx context.Context, src string, start, duration float64, out string) (string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-i", src, "-t", seconds(duration), "-an"}
	args = append(args, videoEncodeArgs...)
	args = append(args, "-avoid_negative_ts", "make_zero", out)

	if err := e.tool.produce(ctx, "extract_video", out, args...); err != nil {
		return "", err
	}
	return out, nil
}

// ExtractAudioOnly writes [start, start+duration) of src as 16-bit PCM,
// mono, 22050 Hz.
func (e *Extractor) ExtractAudioOnly(ctx context.Context, src string, start, duration float64, out string) (string, error) {
	err := e.tool.produce(ctx, "extract_audio", out,
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-i", src, "-t", seconds(duration),
		"-vn", "-acodec", "pcm_s16le", "-ar", "22050", "-ac", "1",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

// ExtractRemainder writes everything from start to the end of src.
func (e *Extractor) ExtractRemainder(ctx context.Context, src string, start float64, out string) (string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-i", src}
	args = append(args, videoEncodeArgs...)
	args = append(args, audioEncodeArgs...)
	args = append(args, "-avoid_negative_ts", "make_zero", out)

	if err := e.tool.produce(ctx, "extract_remainder", out, args...); err != nil {
		return "", err
	}
	return out, nil
}
