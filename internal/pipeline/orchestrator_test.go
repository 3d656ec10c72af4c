package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/personaliz/personaliz-server/internal/lipsync"
	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/outcome"
	"github.com/personaliz/personaliz-server/internal/voice"
)

// fakeMedia writes small placeholder files instead of running ffmpeg.
type fakeMedia struct {
	mu       sync.Mutex
	duration float64
	noAudio  bool
	probeErr error
	calls    []string
	spliced  []media.VideoSegment
}

func (f *fakeMedia) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func touch(path string) (string, error) {
	return path, os.WriteFile(path, []byte("x"), 0o644)
}

func (f *fakeMedia) Probe(_ context.Context, path string) (*media.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &media.ProbeResult{Duration: f.duration, HasAudio: !f.noAudio}, nil
}

func (f *fakeMedia) Extract(_ context.Context, _ string, start, dur float64, out string) (string, error) {
	f.record(fmt.Sprintf("extract %.0f+%.0f", start, dur))
	return touch(out)
}

func (f *fakeMedia) ExtractWithSilence(_ context.Context, _ string, start, dur float64, out string) (string, error) {
	f.record(fmt.Sprintf("silent %.0f+%.0f", start, dur))
	return touch(out)
}

func (f *fakeMedia) ExtractVideoOnly(_ context.Context, _ string, start, dur float64, out string) (string, error) {
	f.record(fmt.Sprintf("video %.0f+%.0f", start, dur))
	return touch(out)
}

func (f *fakeMedia) ExtractAudioOnly(_ context.Context, _ string, start, dur float64, out string) (string, error) {
	f.record(fmt.Sprintf("audio %.0f+%.0f", start, dur))
	return touch(out)
}

func (f *fakeMedia) Build(_ context.Context, videoOnly, audio, out string) (string, error) {
	f.record("build " + filepath.Base(out))
	return touch(out)
}

func (f *fakeMedia) ConcatenateSegments(_ context.Context, segments []media.VideoSegment, out string) (string, error) {
	f.mu.Lock()
	f.spliced = segments
	f.mu.Unlock()
	return touch(out)
}

type fakeVoice struct {
	texts     []string
	fallbacks []string
	err       error
}

func (v *fakeVoice) Synthesize(_ context.Context, req voice.Request) (outcome.Result[string], error) {
	v.texts = append(v.texts, req.Text)
	v.fallbacks = append(v.fallbacks, req.FallbackAudio)
	if v.err != nil {
		return outcome.Result[string]{}, v.err
	}
	return outcome.Degrade(req.FallbackAudio, outcome.ReasonDemoMode, nil), nil
}

type fakeLipSync struct{ real bool }

func (l fakeLipSync) LipSync(_ context.Context, req lipsync.Request) (outcome.Result[string], error) {
	if l.real {
		p, err := touch(req.OutPath)
		return outcome.Real(p), err
	}
	return outcome.Degrade(req.Video, outcome.ReasonUnavailable, errors.New("no gpu")), nil
}

func newTestOrchestrator(t *testing.T, m *fakeMedia, v *fakeVoice, ls LipSyncer) (*Orchestrator, string, string) {
	t.Helper()
	scratch := t.TempDir()
	out := t.TempDir()
	return New(Config{
		Prober:      m,
		Extractor:   m,
		Builder:     m,
		Splicer:     m,
		Voice:       v,
		LipSync:     ls,
		Policy:      FixedWindowPolicy{Greeting: 5, Closing: 5},
		ScratchRoot: scratch,
		OutputDir:   out,
		Logger:      logging.Discard(),
	}), scratch, out
}

func TestRun_DegradedSuccess(t *testing.T) {
	m := &fakeMedia{duration: 30}
	v := &fakeVoice{}
	o, scratch, outDir := newTestOrchestrator(t, m, v, fakeLipSync{})

	res := o.Run(context.Background(), Request{
		ID:            "abc",
		BaseVideoPath: "/base.mp4",
		Lines:         map[PointKind]string{PointGreeting: "Hi Ana", PointCustom: "Bye Ana"},
	})
	if !res.Success || res.State != StateDone {
		t.Fatalf("result = %+v", res)
	}
	if res.OutputPath != filepath.Join(outDir, "abc_personalized.mp4") {
		t.Errorf("OutputPath = %q", res.OutputPath)
	}
	if len(res.Segments) != 3 || len(m.spliced) != 3 {
		t.Errorf("segments = %d, spliced = %d", len(res.Segments), len(m.spliced))
	}
	if len(res.Degraded) != 4 {
		t.Errorf("degraded notes = %d, want 4: %+v", len(res.Degraded), res.Degraded)
	}
	if strings.Join(v.texts, "|") != "Hi Ana|Bye Ana" {
		t.Errorf("texts = %v", v.texts)
	}
	if _, err := os.Stat(filepath.Join(scratch, "req-abc")); !os.IsNotExist(err) {
		t.Errorf("scratch dir not removed: %v", err)
	}
}

func TestRun_LipSyncedOutputName(t *testing.T) {
	m := &fakeMedia{duration: 8}
	o, _, outDir := newTestOrchestrator(t, m, &fakeVoice{}, fakeLipSync{real: true})

	res := o.Run(context.Background(), Request{ID: "ls", BaseVideoPath: "/base.mp4", Lines: map[PointKind]string{PointGreeting: "Hi"}})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.OutputPath != filepath.Join(outDir, "ls_lipsync.mp4") {
		t.Errorf("OutputPath = %q", res.OutputPath)
	}
	// 8s video: greeting [0,5) plus generic [5,8), no closing window.
	if len(res.Segments) != 2 {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestRun_ClosingFallsBackToGreetingLine(t *testing.T) {
	v := &fakeVoice{}
	o, _, _ := newTestOrchestrator(t, &fakeMedia{duration: 30}, v, fakeLipSync{})

	o.Run(context.Background(), Request{BaseVideoPath: "/base.mp4", Lines: map[PointKind]string{PointGreeting: "Hi"}})
	if strings.Join(v.texts, "|") != "Hi|Hi" {
		t.Errorf("texts = %v", v.texts)
	}
}

func TestRun_ProbeFailure(t *testing.T) {
	m := &fakeMedia{probeErr: fmt.Errorf("probe: %w", media.ErrInputNotFound)}
	o, scratch, _ := newTestOrchestrator(t, m, &fakeVoice{}, fakeLipSync{})

	res := o.Run(context.Background(), Request{ID: "bad", BaseVideoPath: "/missing.mp4"})
	if res.Success || res.State != StateFailed {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, media.ErrInputNotFound) {
		t.Errorf("Err = %v", res.Err)
	}
	if !strings.HasPrefix(res.Error, string(StatePlanning)) {
		t.Errorf("Error = %q, want PLANNING prefix", res.Error)
	}
	if _, err := os.Stat(filepath.Join(scratch, "req-bad")); err != nil {
		t.Errorf("scratch dir should be kept for the janitor after failure: %v", err)
	}
}

func TestRun_VoiceErrorFailsInBuilding(t *testing.T) {
	v := &fakeVoice{err: errors.New("disk full")}
	o, _, _ := newTestOrchestrator(t, &fakeMedia{duration: 30}, v, fakeLipSync{})

	res := o.Run(context.Background(), Request{BaseVideoPath: "/base.mp4", Lines: map[PointKind]string{PointGreeting: "Hi"}})
	if res.Success || !strings.HasPrefix(res.Error, string(StateBuilding)) {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &fakeMedia{duration: 30}
	o, _, _ := newTestOrchestrator(t, m, &fakeVoice{}, fakeLipSync{})

	res := o.Run(ctx, Request{BaseVideoPath: "/base.mp4"})
	if res.Success || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("result = %+v", res)
	}
	if len(m.calls) != 0 {
		t.Errorf("media calls after cancel: %v", m.calls)
	}
}

func TestRun_TwentySecondBase(t *testing.T) {
	m := &fakeMedia{duration: 20}
	o, _, _ := newTestOrchestrator(t, m, &fakeVoice{}, fakeLipSync{})

	res := o.Run(context.Background(), Request{ID: "twenty", BaseVideoPath: "/base.mp4", Lines: map[PointKind]string{PointGreeting: "Hi"}})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	ex := res.Extraction
	if ex == nil || ex.TotalCount != 3 || len(ex.Personalized) != 2 || len(ex.Generic) != 1 {
		t.Fatalf("extraction = %+v", ex)
	}
	windows := [][2]float64{
		{ex.Personalized[0].StartTime, ex.Personalized[0].EndTime},
		{ex.Generic[0].StartTime, ex.Generic[0].EndTime},
		{ex.Personalized[1].StartTime, ex.Personalized[1].EndTime},
	}
	want := [][2]float64{{0, 5}, {5, 15}, {15, 20}}
	for i := range want {
		if windows[i] != want[i] {
			t.Errorf("window %d = %v, want %v", i, windows[i], want[i])
		}
	}
	if err := VerifyTiling(ex.All(), 20); err != nil {
		t.Errorf("extraction does not tile the base: %v", err)
	}

	var order []float64
	for _, seg := range m.spliced {
		order = append(order, seg.StartTime)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 5 || order[2] != 15 {
		t.Errorf("splice order = %v", order)
	}
	if ex.Personalized[0].Description == "" || ex.Generic[0].Description == "" {
		t.Errorf("segments missing descriptions: %+v", ex)
	}
}

func TestRun_BaseWithoutAudio(t *testing.T) {
	m := &fakeMedia{duration: 20, noAudio: true}
	v := &fakeVoice{}
	o, _, _ := newTestOrchestrator(t, m, v, fakeLipSync{})

	res := o.Run(context.Background(), Request{BaseVideoPath: "/mute.mp4", Lines: map[PointKind]string{PointGreeting: "Hi"}})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	want := "video 0+5|silent 5+10|video 15+5|build personalized-segment-0.mp4|build personalized-segment-2.mp4"
	if got := strings.Join(m.calls, "|"); got != want {
		t.Errorf("calls = %s\nwant    %s", got, want)
	}
	for i, fb := range v.fallbacks {
		if fb != "" {
			t.Errorf("synthesis %d offered source audio %q from a base without audio", i, fb)
		}
	}
}
