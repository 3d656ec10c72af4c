package media

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// DefaultMinOutputBytes is the smallest output accepted as a real video.
const DefaultMinOutputBytes = 10000

// SplicerConfig configures a Splicer.
type SplicerConfig struct {
	FFmpegPath      string
	Runner          CommandRunner
	Extractor       *Extractor
	Prober          *Prober // optional; fills MergeResult.Duration
	ScratchRoot     string
	OutputDir       string // default location for Merge outputs
	MinOutputBytes  int64
	CrossfadeOffset float64 // seconds into the first clip where the fade starts
	Timeout         time.Duration
	Logger          *slog.Logger
}

// Splicer joins clips into one re-encoded output.
type Splicer struct {
	cfg  SplicerConfig
	tool tool
}

// NewSplicer creates a Splicer.
func NewSplicer(cfg SplicerConfig) *Splicer {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.MinOutputBytes == 0 {
		cfg.MinOutputBytes = DefaultMinOutputBytes
	}
	if cfg.CrossfadeOffset == 0 {
		cfg.CrossfadeOffset = 5
	}
	return &Splicer{
		cfg: cfg,
		tool: tool{
			path:    cfg.FFmpegPath,
			runner:  cfg.Runner,
			timeout: cfg.Timeout,
			logger:  cfg.Logger,
		},
	}
}

// Concatenate joins paths in the given order using the concat demuxer and
// re-encodes the result to a single H.264/AAC profile.
func (s *Splicer) Concatenate(ctx context.Context, paths []string, out string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("concatenate: %w: no inputs", ErrInputNotFound)
	}
	if err := checkInputs(paths...); err != nil {
		return "", fmt.Errorf("concatenate: %w", err)
	}

	scratch, cleanup, err := s.scratchDir("concat")
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := s.concatIn(ctx, scratch, paths, out); err != nil {
		return "", err
	}
	return out, nil
}

// ConcatenateSegments orders segments by StartTime and concatenates them.
// Caller order is ignored.
func (s *Splicer) ConcatenateSegments(ctx context.Context, segments []VideoSegment, out string) (string, error) {
	ordered := SortSegments(segments)
	paths := lo.Map(ordered, func(seg VideoSegment, _ int) string { return seg.Path })
	return s.Concatenate(ctx, paths, out)
}

// ConcatenateWithCrossfade joins exactly two clips with a video and audio
// crossfade of transition seconds at the configured offset. With more than
// two inputs it falls back to plain concatenation without any fade.
func (s *Splicer) ConcatenateWithCrossfade(ctx context.Context, paths []string, transition float64, out string) (string, error) {
	if len(paths) < 2 {
		return "", fmt.Errorf("crossfade: need two inputs, got %d", len(paths))
	}
	if len(paths) > 2 {
		s.cfg.Logger.Warn("crossfade supports exactly two inputs, concatenating without fade", "inputs", len(paths))
		return s.Concatenate(ctx, paths, out)
	}
	if err := checkInputs(paths...); err != nil {
		return "", fmt.Errorf("crossfade: %w", err)
	}
	if transition <= 0 {
		transition = 1
	}

	filter := fmt.Sprintf(
		"[0:v][1:v]xfade=transition=fade:duration=%s:offset=%s,format=yuv420p[v];[0:a][1:a]acrossfade=d=%s:c1=tri:c2=tri[a]",
		seconds(transition), seconds(s.cfg.CrossfadeOffset), seconds(transition),
	)
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", paths[0], "-i", paths[1],
		"-filter_complex", filter,
		"-map", "[v]", "-map", "[a]",
	}
	args = append(args, videoEncodeArgs...)
	args = append(args, audioEncodeArgs...)
	args = append(args, "-movflags", "+faststart", out)

	if err := s.tool.produce(ctx, "crossfade", out, args...); err != nil {
		return "", err
	}
	if _, err := s.verifyOutput(out); err != nil {
		return "", err
	}
	return out, nil
}

// SpliceHead replaces the first headDuration seconds of base with head.
func (s *Splicer) SpliceHead(ctx context.Context, base, head string, headDuration float64, out string) (string, error) {
	if err := checkInputs(base, head); err != nil {
		return "", fmt.Errorf("splice head: %w", err)
	}

	scratch, cleanup, err := s.scratchDir("splice")
	if err != nil {
		return "", err
	}
	defer cleanup()

	remainder, err := s.cfg.Extractor.ExtractRemainder(ctx, base, headDuration, filepath.Join(scratch, "remaining.mp4"))
	if err != nil {
		return "", fmt.Errorf("splice head: %w", err)
	}

	if err := s.concatIn(ctx, scratch, []string{head, remainder}, out); err != nil {
		return "", err
	}
	return out, nil
}

// Merge runs SpliceHead (or a crossfaded join when req.Fade is set) and
// reports the outcome as a MergeResult.
func (s *Splicer) Merge(ctx context.Context, req MergeRequest) MergeResult {
	start := time.Now()
	out := req.OutputPath
	if out == "" {
		out = filepath.Join(s.cfg.OutputDir, "merged-video-"+uuid.NewString()+".mp4")
	}

	logger := s.cfg.Logger.With("output", filepath.Base(out), "fade", req.Fade)
	logger.Info("video merge started", "segment_duration", req.SegmentDuration)

	err := s.merge(ctx, req, out)
	result := MergeResult{ProcessingTime: time.Since(start)}
	result.ProcessingMs = result.ProcessingTime.Milliseconds()
	if err != nil {
		result.Error = err.Error()
		logger.Error("video merge failed", "error", err, "duration_ms", result.ProcessingMs)
		return result
	}

	result.Success = true
	result.OutputPath = out
	if info, statErr := os.Stat(out); statErr == nil {
		result.FileSize = info.Size()
	}
	if s.cfg.Prober != nil {
		if probe, probeErr := s.cfg.Prober.Probe(ctx, out); probeErr == nil {
			result.Duration = probe.Duration
		} else {
			logger.Warn("could not probe merged output", "error", probeErr)
		}
	}
	logger.Info("video merge completed", "file_size", result.FileSize, "duration_ms", result.ProcessingMs)
	return result
}

func (s *Splicer) merge(ctx context.Context, req MergeRequest, out string) error {
	if req.SegmentDuration <= 0 {
		return errors.New("segment duration must be positive")
	}
	if !req.Fade {
		_, err := s.SpliceHead(ctx, req.BaseVideoPath, req.PersonalizedSegmentPath, req.SegmentDuration, out)
		return err
	}

	if err := checkInputs(req.BaseVideoPath, req.PersonalizedSegmentPath); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	scratch, cleanup, err := s.scratchDir("merge")
	if err != nil {
		return err
	}
	defer cleanup()

	remainder, err := s.cfg.Extractor.ExtractRemainder(ctx, req.BaseVideoPath, req.SegmentDuration, filepath.Join(scratch, "remaining.mp4"))
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	_, err = s.ConcatenateWithCrossfade(ctx, []string{req.PersonalizedSegmentPath, remainder}, req.FadeDuration, out)
	return err
}

// concatIn writes the manifest into scratch and runs the concat demuxer.
func (s *Splicer) concatIn(ctx context.Context, scratch string, paths []string, out string) error {
	manifest := filepath.Join(scratch, "concat.txt")
	if err := writeManifest(manifest, paths); err != nil {
		return fmt.Errorf("concatenate: %w", err)
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", manifest}
	args = append(args, videoEncodeArgs...)
	args = append(args, audioEncodeArgs...)
	args = append(args, "-movflags", "+faststart", out)

	if err := s.tool.produce(ctx, "concat", out, args...); err != nil {
		return err
	}
	size, err := s.verifyOutput(out)
	if err != nil {
		return err
	}
	s.cfg.Logger.Info("segments concatenated", "inputs", len(paths), "file_size", size)
	return nil
}

func (s *Splicer) verifyOutput(out string) (int64, error) {
	size, err := checkOutputSize(out, s.cfg.MinOutputBytes)
	if err != nil {
		os.Remove(out)
		return size, err
	}
	return size, nil
}

// scratchDir creates a fresh per-invocation directory. The returned cleanup
// removes it and only logs on failure.
func (s *Splicer) scratchDir(prefix string) (string, func(), error) {
	dir := filepath.Join(s.cfg.ScratchRoot, prefix+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.cfg.Logger.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// writeManifest writes an ffmpeg concat list atomically.
func writeManifest(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return renameio.WriteFile(path, []byte(b.String()), 0644)
}

// SortSegments returns a copy of segs ordered by StartTime.
func SortSegments(segs []VideoSegment) []VideoSegment {
	out := slices.Clone(segs)
	slices.SortStableFunc(out, func(a, b VideoSegment) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})
	return out
}
