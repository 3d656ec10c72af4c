package media

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997},
		{"25/0", 0},
		{"25", 0},
		{"", 0},
		{"abc/def", 0},
	}
	for _, tt := range tests {
		got := ParseFrameRate(tt.in)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "audio", "codec_name": "aac"},
    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720,
     "r_frame_rate": "30/1", "avg_frame_rate": "30/1", "duration": "19.9"}
  ],
  "format": {"duration": "20.000000", "bit_rate": "1543210"}
}`

func TestParseProbe(t *testing.T) {
	got, err := parseProbe([]byte(probeJSON))
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	want := ProbeResult{
		Duration: 20, Width: 1280, Height: 720, Bitrate: 1543210, FPS: 30,
		Codec: "h264", AudioCodec: "aac", HasAudio: true,
	}
	if *got != want {
		t.Errorf("parseProbe = %+v, want %+v", *got, want)
	}
}

func TestParseProbe_ZeroDenominator(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","r_frame_rate":"0/0","avg_frame_rate":"0/0"}],"format":{"duration":"3.5"}}`
	got, err := parseProbe([]byte(data))
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if got.FPS != 0 {
		t.Errorf("FPS = %v, want 0", got.FPS)
	}
	if got.HasAudio {
		t.Error("HasAudio = true for video-only stream list")
	}
}

func TestParseProbe_NoVideoStream(t *testing.T) {
	data := `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"12.0"}}`
	_, err := parseProbe([]byte(data))
	if !errors.Is(err, ErrNoVideoStream) {
		t.Fatalf("err = %v, want ErrNoVideoStream", err)
	}
}

func TestParseProbe_Garbage(t *testing.T) {
	_, err := parseProbe([]byte("not json"))
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("err = %v, want ErrExternalTool", err)
	}
}

func TestProbe_MissingFile(t *testing.T) {
	runner := &fakeRunner{noWrite: true}
	p := NewProber("ffprobe", runner, time.Second, nil)

	_, err := p.Probe(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	if !errors.Is(err, ErrInputNotFound) {
		t.Fatalf("err = %v, want ErrInputNotFound", err)
	}
	if runner.callCount() != 0 {
		t.Errorf("ffprobe invoked %d times for a missing file", runner.callCount())
	}
}

func TestProbe_UsesJSONOutput(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "in.mp4"), 100)
	runner := &fakeRunner{noWrite: true, stdout: []byte(probeJSON)}
	p := NewProber("ffprobe", runner, time.Second, nil)

	got, err := p.Probe(context.Background(), src)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got.Duration != 20 {
		t.Errorf("Duration = %v, want 20", got.Duration)
	}
	args := runner.call(0)
	if argAfter(args, "-print_format") != "json" || args[len(args)-1] != src {
		t.Errorf("unexpected ffprobe args %v", args)
	}
}
