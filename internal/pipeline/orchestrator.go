// Package pipeline drives one personalization request from planning to a
// finished video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/personaliz/personaliz-server/internal/lipsync"
	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/metrics"
	"github.com/personaliz/personaliz-server/internal/outcome"
	"github.com/personaliz/personaliz-server/internal/voice"
)

// State is a step of the pipeline state machine.
type State string

const (
	StatePlanning   State = "PLANNING"
	StateExtracting State = "EXTRACTING"
	StateBuilding   State = "BUILDING"
	StateSplicing   State = "SPLICING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Prober reads base video metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// SegmentExtractor cuts clips out of the base video.
type SegmentExtractor interface {
	Extract(ctx context.Context, src string, start, duration float64, out string) (string, error)
	ExtractWithSilence(ctx context.Context, src string, start, duration float64, out string) (string, error)
	ExtractVideoOnly(ctx context.Context, src string, start, duration float64, out string) (string, error)
	ExtractAudioOnly(ctx context.Context, src string, start, duration float64, out string) (string, error)
}

// SegmentBuilder muxes replacement audio onto a video-only clip.
type SegmentBuilder interface {
	Build(ctx context.Context, videoOnly, audio, out string) (string, error)
}

// SegmentSplicer joins segments in start-time order.
type SegmentSplicer interface {
	ConcatenateSegments(ctx context.Context, segments []media.VideoSegment, out string) (string, error)
}

// Synthesizer produces personalized speech, falling back when the provider fails.
type Synthesizer interface {
	Synthesize(ctx context.Context, req voice.Request) (outcome.Result[string], error)
}

// LipSyncer re-animates a clip to match new audio, falling back to the input clip.
type LipSyncer interface {
	LipSync(ctx context.Context, req lipsync.Request) (outcome.Result[string], error)
}

// Request describes one personalized video to produce.
type Request struct {
	ID            string               // token used for scratch and output names; generated when empty
	BaseVideoPath string               // template video
	VoiceID       string               // TTS voice; provider default when empty
	Lines         map[PointKind]string // text spoken in each kind of window
	OutputPath    string               // final file; derived from ID when empty
}

// Result is the outcome of Run. Errors never escape Run; they are reported
// here with Success false.
type Result struct {
	ID           string                         `json:"id"`
	Success      bool                           `json:"success"`
	State        State                          `json:"state"`
	Policy       string                         `json:"policy"`
	OutputPath   string                         `json:"output_path,omitempty"`
	FileSize     int64                          `json:"file_size,omitempty"`
	Duration     float64                        `json:"duration,omitempty"`
	Segments     []media.VideoSegment           `json:"segments,omitempty"`
	Extraction   *media.SegmentExtractionResult `json:"extraction,omitempty"`
	Degraded     []outcome.Note                 `json:"degraded,omitempty"`
	ProcessingMs int64                          `json:"processing_time_ms"`
	Error        string                         `json:"error,omitempty"`
	Err          error                          `json:"-"`
}

// IsDegraded reports whether any collaborator fell back.
func (r Result) IsDegraded() bool { return len(r.Degraded) > 0 }

// Config wires the orchestrator's collaborators.
type Config struct {
	Prober      Prober
	Extractor   SegmentExtractor
	Builder     SegmentBuilder
	Splicer     SegmentSplicer
	Voice       Synthesizer
	LipSync     LipSyncer
	Policy      WindowPolicy
	ScratchRoot string
	OutputDir   string
	Logger      *slog.Logger
}

// Orchestrator runs the PLANNING → EXTRACTING → BUILDING → SPLICING → DONE
// state machine. It holds no per-request state, so concurrent Run calls are
// independent.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Policy == nil {
		cfg.Policy = FixedWindowPolicy{Greeting: 5, Closing: 5}
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "pipeline"),
	}
}

// run carries the state of one request.
type run struct {
	req       Request
	scratch   string
	logger    *slog.Logger
	state     State
	duration  float64
	hasAudio  bool
	spans     []Span
	segments  []media.VideoSegment
	degraded  []outcome.Note
	lipSynced bool
}

// Run produces the personalized video for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	r := &run{
		req:     req,
		scratch: filepath.Join(o.cfg.ScratchRoot, "req-"+req.ID),
		logger:  o.logger.With("request_id", req.ID),
		state:   StatePlanning,
	}

	r.logger.Info("pipeline started", "base", logging.SanitizePath(req.BaseVideoPath), "policy", o.cfg.Policy.Name())

	out, err := o.execute(ctx, r)
	result := Result{
		ID:           req.ID,
		State:        r.state,
		Policy:       o.cfg.Policy.Name(),
		Segments:     r.segments,
		Degraded:     r.degraded,
		ProcessingMs: time.Since(start).Milliseconds(),
	}

	if len(r.segments) > 0 {
		ex := media.NewSegmentExtractionResult(r.segments)
		result.Extraction = &ex
	}

	if err != nil {
		// Scratch is left for the janitor.
		result.State = StateFailed
		result.Error = fmt.Sprintf("%s: %v", r.state, err)
		result.Err = err
		metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
		r.logger.Error("pipeline failed", "state", r.state, "error", err, "scratch", r.scratch, "duration_ms", result.ProcessingMs)
		return result
	}

	o.cleanup(r)
	result.Success = true
	result.State = StateDone
	result.OutputPath = out
	if info, statErr := os.Stat(out); statErr == nil {
		result.FileSize = info.Size()
	}
	if probe, probeErr := o.cfg.Prober.Probe(ctx, out); probeErr == nil {
		result.Duration = probe.Duration
	} else {
		r.logger.Warn("could not probe final output", "error", probeErr)
	}

	label := "done"
	if result.IsDegraded() {
		label = "degraded"
	}
	metrics.PipelineRunsTotal.WithLabelValues(label).Inc()
	r.logger.Info("pipeline completed",
		"output", filepath.Base(out),
		"file_size", result.FileSize,
		"degraded", len(result.Degraded),
		"duration_ms", result.ProcessingMs,
	)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (string, error) {
	if err := os.MkdirAll(r.scratch, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	steps := []struct {
		state State
		fn    func(context.Context, *run) error
	}{
		{StatePlanning, o.plan},
		{StateExtracting, o.extract},
		{StateBuilding, o.build},
	}
	for _, s := range steps {
		if err := o.step(ctx, r, s.state, s.fn); err != nil {
			return "", err
		}
	}

	var out string
	err := o.step(ctx, r, StateSplicing, func(ctx context.Context, r *run) error {
		var err error
		out, err = o.splice(ctx, r)
		return err
	})
	return out, err
}

func (o *Orchestrator) step(ctx context.Context, r *run, state State, fn func(context.Context, *run) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = state
	start := time.Now()
	r.logger.Debug("pipeline step started", "state", state)
	err := fn(ctx, r)
	metrics.ObserveStep(string(state), time.Since(start))
	return err
}

func (o *Orchestrator) plan(ctx context.Context, r *run) error {
	info, err := o.cfg.Prober.Probe(ctx, r.req.BaseVideoPath)
	if err != nil {
		return err
	}
	r.duration = info.Duration
	r.hasAudio = info.HasAudio
	if !r.hasAudio {
		r.logger.Warn("base video has no audio track, generic segments get silence")
	}

	points, err := o.cfg.Policy.Plan(info.Duration)
	if err != nil {
		return err
	}
	r.spans, err = Partition(points, info.Duration)
	if err != nil {
		return err
	}

	r.logger.Info("pipeline planned",
		"duration", info.Duration,
		"personalized", lo.CountBy(r.spans, func(s Span) bool { return s.Kind == media.SegmentPersonalized }),
		"spans", len(r.spans),
	)
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, r *run) error {
	base := r.req.BaseVideoPath
	for i, span := range r.spans {
		seg := media.VideoSegment{
			ID:          fmt.Sprintf("%s-segment-%d", span.Kind, i),
			Kind:        span.Kind,
			StartTime:   span.Start,
			EndTime:     span.End,
			Description: "generic passthrough",
		}
		dur := span.End - span.Start

		var err error
		switch {
		case span.Kind == media.SegmentGeneric && r.hasAudio:
			seg.Path, err = o.cfg.Extractor.Extract(ctx, base, span.Start, dur, filepath.Join(r.scratch, seg.ID+".mp4"))
		case span.Kind == media.SegmentGeneric:
			seg.Path, err = o.cfg.Extractor.ExtractWithSilence(ctx, base, span.Start, dur, filepath.Join(r.scratch, seg.ID+".mp4"))
		default:
			seg.Description = span.Point.Description
			seg.Path, err = o.cfg.Extractor.ExtractVideoOnly(ctx, base, span.Start, dur, filepath.Join(r.scratch, seg.ID+"-video.mp4"))
			// Without a source track the voice fallback writes a placeholder.
			if err == nil && r.hasAudio {
				seg.AudioPath, err = o.cfg.Extractor.ExtractAudioOnly(ctx, base, span.Start, dur, filepath.Join(r.scratch, seg.ID+"-original.wav"))
			}
		}
		if err != nil {
			return err
		}
		r.segments = append(r.segments, seg)
	}

	ex := media.NewSegmentExtractionResult(r.segments)
	r.logger.Debug("segments extracted", "personalized", len(ex.Personalized), "generic", len(ex.Generic))
	return VerifyTiling(ex.All(), r.duration)
}

func (o *Orchestrator) build(ctx context.Context, r *run) error {
	for i, seg := range r.segments {
		if seg.Kind != media.SegmentPersonalized {
			continue
		}
		span := r.spans[i]
		text := r.lineFor(span.Point.Kind)

		speech, err := o.cfg.Voice.Synthesize(ctx, voice.Request{
			Text:          text,
			VoiceID:       r.req.VoiceID,
			OutPath:       filepath.Join(r.scratch, seg.ID+"-speech"),
			FallbackAudio: seg.AudioPath,
		})
		if err != nil {
			return fmt.Errorf("synthesize %s: %w", seg.ID, err)
		}
		r.note("voice", speech)

		built, err := o.cfg.Builder.Build(ctx, seg.Path, speech.Value, filepath.Join(r.scratch, seg.ID+".mp4"))
		if err != nil {
			return err
		}

		synced, err := o.cfg.LipSync.LipSync(ctx, lipsync.Request{
			Video:   built,
			Audio:   speech.Value,
			OutPath: filepath.Join(r.scratch, seg.ID+"_lipsync.mp4"),
		})
		if err != nil {
			return fmt.Errorf("lip-sync %s: %w", seg.ID, err)
		}
		r.note("lipsync", synced)
		if !synced.IsDegraded() {
			r.lipSynced = true
		}

		r.segments[i].Path = synced.Value
		r.segments[i].AudioPath = speech.Value
	}
	return nil
}

func (o *Orchestrator) splice(ctx context.Context, r *run) (string, error) {
	if err := VerifyTiling(r.segments, r.duration); err != nil {
		return "", err
	}

	out := r.req.OutputPath
	if out == "" {
		suffix := "_personalized.mp4"
		if r.lipSynced {
			suffix = "_lipsync.mp4"
		}
		out = filepath.Join(o.cfg.OutputDir, r.req.ID+suffix)
	}
	return o.cfg.Splicer.ConcatenateSegments(ctx, r.segments, out)
}

// lineFor returns the text for a window kind, falling back to the greeting line.
func (r *run) lineFor(kind PointKind) string {
	if text, ok := r.req.Lines[kind]; ok && text != "" {
		return text
	}
	return r.req.Lines[PointGreeting]
}

func (r *run) note(collaborator string, res outcome.Result[string]) {
	n, ok := outcome.NoteFor(collaborator, res)
	if !ok {
		return
	}
	r.degraded = append(r.degraded, n)
	metrics.RecordDegradation(collaborator, string(n.Reason))
	r.logger.Warn("collaborator degraded", "collaborator", collaborator, "reason", n.Reason, "detail", n.Detail)
}

func (o *Orchestrator) cleanup(r *run) {
	if err := os.RemoveAll(r.scratch); err != nil {
		r.logger.Warn("failed to remove scratch dir", "dir", r.scratch, "error", err)
	}
}

// IsTimeout reports whether a failed Result was caused by a step deadline.
func (r Result) IsTimeout() bool {
	return errors.Is(r.Err, media.ErrTimedOut)
}
