package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSplicer(t *testing.T, runner CommandRunner) (*Splicer, string) {
	t.Helper()
	scratch := filepath.Join(t.TempDir(), "scratch")
	s := NewSplicer(SplicerConfig{
		FFmpegPath:     "ffmpeg",
		Runner:         runner,
		Extractor:      NewExtractor("ffmpeg", runner, time.Second, nil),
		ScratchRoot:    scratch,
		OutputDir:      t.TempDir(),
		MinOutputBytes: DefaultMinOutputBytes,
		Timeout:        time.Second,
	})
	return s, scratch
}

func scratchEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	return len(entries)
}

func TestConcatenate_MissingInputFailsBeforeSpawn(t *testing.T) {
	dir := t.TempDir()
	real := writeFile(t, filepath.Join(dir, "a.mp4"), 20000)
	missing := filepath.Join(dir, "b.mp4")

	runner := &fakeRunner{outBytes: 20000}
	s, scratch := newTestSplicer(t, runner)

	_, err := s.Concatenate(context.Background(), []string{real, missing}, filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("err = %v, want ErrInputNotFound", err)
	}
	if runner.callCount() != 0 {
		t.Errorf("subprocess spawned %d times, want 0", runner.callCount())
	}
	if n := scratchEntries(t, scratch); n != 0 {
		t.Errorf("scratch has %d entries, want 0", n)
	}
}

func TestConcatenate_ZeroLengthInputFailsBeforeSpawn(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.mp4"), 20000)
	empty := writeFile(t, filepath.Join(dir, "empty.mp4"), 0)

	runner := &fakeRunner{outBytes: 20000}
	s, _ := newTestSplicer(t, runner)

	_, err := s.Concatenate(context.Background(), []string{a, empty}, filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("err = %v, want ErrInputNotFound", err)
	}
	if runner.callCount() != 0 {
		t.Errorf("subprocess spawned %d times, want 0", runner.callCount())
	}
}

func TestConcatenate_NoInputs(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestSplicer(t, runner)

	if _, err := s.Concatenate(context.Background(), nil, "out.mp4"); !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("err = %v, want ErrInputNotFound", err)
	}
}

func TestConcatenate_OutputTooSmall(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.mp4"), 20000)
	b := writeFile(t, filepath.Join(dir, "b.mp4"), 20000)

	runner := &fakeRunner{outBytes: 0}
	s, scratch := newTestSplicer(t, runner)

	out := filepath.Join(dir, "out.mp4")
	_, err := s.Concatenate(context.Background(), []string{a, b}, out)
	if !errors.Is(err, ErrOutputTooSmall) {
		t.Fatalf("err = %v, want ErrOutputTooSmall", err)
	}
	if n := scratchEntries(t, scratch); n != 0 {
		t.Errorf("scratch dir not cleaned after failure: %d entries", n)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("undersized output should be removed")
	}
}

func TestConcatenate_ManifestAndCleanup(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "first.mp4"), 20000)
	b := writeFile(t, filepath.Join(dir, "it's second.mp4"), 20000)

	var manifest string
	runner := &fakeRunner{outBytes: 50000}
	runner.onRun = func(args []string) {
		data, err := os.ReadFile(argAfter(args, "-i"))
		if err == nil {
			manifest = string(data)
		}
	}
	s, scratch := newTestSplicer(t, runner)

	out := filepath.Join(dir, "out.mp4")
	if _, err := s.Concatenate(context.Background(), []string{a, b}, out); err != nil {
		t.Fatalf("Concatenate: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	if len(lines) != 2 {
		t.Fatalf("manifest has %d lines: %q", len(lines), manifest)
	}
	if lines[0] != "file '"+a+"'" {
		t.Errorf("first manifest line = %q", lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s second.mp4`) {
		t.Errorf("quote not escaped: %q", lines[1])
	}

	args := runner.call(0)
	if argAfter(args, "-f") != "concat" || argAfter(args, "-safe") != "0" || argAfter(args, "-preset") != "fast" {
		t.Errorf("unexpected concat args %v", args)
	}
	if n := scratchEntries(t, scratch); n != 0 {
		t.Errorf("scratch dir not cleaned after success: %d entries", n)
	}
}

func TestConcatenateSegments_SortsByStartTime(t *testing.T) {
	dir := t.TempDir()
	segs := []VideoSegment{
		{ID: "c", StartTime: 15, EndTime: 20, Path: writeFile(t, filepath.Join(dir, "c.mp4"), 20000)},
		{ID: "a", StartTime: 0, EndTime: 5, Path: writeFile(t, filepath.Join(dir, "a.mp4"), 20000)},
		{ID: "b", StartTime: 5, EndTime: 15, Path: writeFile(t, filepath.Join(dir, "b.mp4"), 20000)},
	}

	var manifest string
	runner := &fakeRunner{outBytes: 50000}
	runner.onRun = func(args []string) {
		data, _ := os.ReadFile(argAfter(args, "-i"))
		manifest = string(data)
	}
	s, _ := newTestSplicer(t, runner)

	if _, err := s.ConcatenateSegments(context.Background(), segs, filepath.Join(dir, "out.mp4")); err != nil {
		t.Fatalf("ConcatenateSegments: %v", err)
	}

	ia := strings.Index(manifest, "a.mp4")
	ib := strings.Index(manifest, "b.mp4")
	ic := strings.Index(manifest, "c.mp4")
	if !(ia < ib && ib < ic) {
		t.Errorf("manifest not in start-time order:\n%s", manifest)
	}
	if segs[0].ID != "c" {
		t.Error("caller slice was reordered")
	}
}

func TestConcatenateWithCrossfade_TwoInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.mp4"), 20000)
	b := writeFile(t, filepath.Join(dir, "b.mp4"), 20000)

	runner := &fakeRunner{outBytes: 50000}
	s, _ := newTestSplicer(t, runner)

	if _, err := s.ConcatenateWithCrossfade(context.Background(), []string{a, b}, 0.5, filepath.Join(dir, "out.mp4")); err != nil {
		t.Fatalf("ConcatenateWithCrossfade: %v", err)
	}
	filter := argAfter(runner.call(0), "-filter_complex")
	for _, want := range []string{"xfade=transition=fade:duration=0.500:offset=5.000", "acrossfade=d=0.500:c1=tri:c2=tri"} {
		if !strings.Contains(filter, want) {
			t.Errorf("filter %q missing %q", filter, want)
		}
	}
}

func TestConcatenateWithCrossfade_ThreeInputsFallsBackToConcat(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, n := range []string{"a", "b", "c"} {
		paths = append(paths, writeFile(t, filepath.Join(dir, n+".mp4"), 20000))
	}

	runner := &fakeRunner{outBytes: 50000}
	s, _ := newTestSplicer(t, runner)

	if _, err := s.ConcatenateWithCrossfade(context.Background(), paths, 1, filepath.Join(dir, "out.mp4")); err != nil {
		t.Fatalf("ConcatenateWithCrossfade: %v", err)
	}
	args := runner.call(0)
	if argAfter(args, "-f") != "concat" || hasArg(args, "-filter_complex") {
		t.Errorf("expected plain concat fallback, got %v", args)
	}
}

func TestConcatenateWithCrossfade_SingleInput(t *testing.T) {
	s, _ := newTestSplicer(t, &fakeRunner{})
	if _, err := s.ConcatenateWithCrossfade(context.Background(), []string{"a.mp4"}, 1, "out.mp4"); err == nil {
		t.Fatal("expected error for a single input")
	}
}

func TestSpliceHead_CutsRemainderThenConcats(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, filepath.Join(dir, "base.mp4"), 20000)
	head := writeFile(t, filepath.Join(dir, "head.mp4"), 20000)

	runner := &fakeRunner{outBytes: 50000}
	s, scratch := newTestSplicer(t, runner)

	out := filepath.Join(dir, "final.mp4")
	if _, err := s.SpliceHead(context.Background(), base, head, 5, out); err != nil {
		t.Fatalf("SpliceHead: %v", err)
	}
	if runner.callCount() != 2 {
		t.Fatalf("expected 2 ffmpeg runs, got %d", runner.callCount())
	}
	cut := runner.call(0)
	if argAfter(cut, "-ss") != "5.000" || argAfter(cut, "-i") != base || hasArg(cut, "-t") {
		t.Errorf("unexpected remainder args %v", cut)
	}
	if argAfter(runner.call(1), "-f") != "concat" {
		t.Errorf("second run should concatenate: %v", runner.call(1))
	}
	if n := scratchEntries(t, scratch); n != 0 {
		t.Errorf("scratch not cleaned: %d entries", n)
	}
}

func TestMerge_FailureIsStructured(t *testing.T) {
	runner := &fakeRunner{outBytes: 50000}
	s, _ := newTestSplicer(t, runner)

	res := s.Merge(context.Background(), MergeRequest{
		BaseVideoPath:           filepath.Join(t.TempDir(), "missing.mp4"),
		PersonalizedSegmentPath: filepath.Join(t.TempDir(), "missing-head.mp4"),
		SegmentDuration:         5,
	})
	if res.Success {
		t.Fatal("expected Success=false")
	}
	if !strings.Contains(res.Error, "input not found") {
		t.Errorf("Error = %q", res.Error)
	}
	if runner.callCount() != 0 {
		t.Errorf("subprocess spawned %d times", runner.callCount())
	}
}

func TestMerge_DefaultOutputPath(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, filepath.Join(dir, "base.mp4"), 20000)
	head := writeFile(t, filepath.Join(dir, "head.mp4"), 20000)

	runner := &fakeRunner{outBytes: 50000}
	s, _ := newTestSplicer(t, runner)

	res := s.Merge(context.Background(), MergeRequest{BaseVideoPath: base, PersonalizedSegmentPath: head, SegmentDuration: 5})
	if !res.Success {
		t.Fatalf("merge failed: %s", res.Error)
	}
	if !strings.HasPrefix(filepath.Base(res.OutputPath), "merged-video-") {
		t.Errorf("OutputPath = %q", res.OutputPath)
	}
	if res.FileSize != 50000 {
		t.Errorf("FileSize = %d, want 50000", res.FileSize)
	}
}

func TestMerge_FadeUsesCrossfade(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, filepath.Join(dir, "base.mp4"), 20000)
	head := writeFile(t, filepath.Join(dir, "head.mp4"), 20000)

	runner := &fakeRunner{outBytes: 50000}
	s, _ := newTestSplicer(t, runner)

	res := s.Merge(context.Background(), MergeRequest{
		BaseVideoPath: base, PersonalizedSegmentPath: head, SegmentDuration: 5,
		OutputPath: filepath.Join(dir, "faded.mp4"), Fade: true, FadeDuration: 1,
	})
	if !res.Success {
		t.Fatalf("merge failed: %s", res.Error)
	}
	if !hasArg(runner.call(1), "-filter_complex") {
		t.Errorf("fade merge should use crossfade filter: %v", runner.call(1))
	}
}
