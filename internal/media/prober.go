package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// Prober reads stream metadata with ffprobe.
type Prober struct {
	tool tool
}

// NewProber creates a Prober. Each call is a single ffprobe run bounded by timeout.
func NewProber(ffprobePath string, runner CommandRunner, timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{tool: tool{
		path:    ffprobePath,
		runner:  runner,
		timeout: timeout,
		logger:  logging.OrDiscard(logger),
	}}
}

// Probe returns duration, dimensions, bitrate and frame rate of path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("probe: %w: %s", ErrInputNotFound, path)
	}

	res, err := p.tool.run(ctx, "probe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	return parseProbe(res.Stdout)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("probe: %w: unparseable ffprobe output", ErrExternalTool)
	}
	doc := gjson.ParseBytes(data)

	video := doc.Get(`streams.#(codec_type=="video")`)
	if !video.Exists() {
		return nil, fmt.Errorf("probe: %w", ErrNoVideoStream)
	}
	audio := doc.Get(`streams.#(codec_type=="audio")`)

	duration := doc.Get("format.duration").Float()
	if duration == 0 {
		duration = video.Get("duration").Float()
	}

	fps := ParseFrameRate(video.Get("r_frame_rate").String())
	if fps == 0 {
		fps = ParseFrameRate(video.Get("avg_frame_rate").String())
	}

	return &ProbeResult{
		Duration:   duration,
		Width:      int(video.Get("width").Int()),
		Height:     int(video.Get("height").Int()),
		Bitrate:    doc.Get("format.bit_rate").Int(),
		FPS:        fps,
		Codec:      video.Get("codec_name").String(),
		AudioCodec: audio.Get("codec_name").String(),
		HasAudio:   audio.Exists(),
	}, nil
}

// ParseFrameRate parses an ffprobe "num/den" rate. A missing or zero
// denominator yields 0.
func ParseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
