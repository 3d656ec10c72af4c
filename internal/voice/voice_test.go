package voice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/outcome"
)

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		text string
		want time.Duration
	}{
		{"", 0},
		{strings.Repeat("word ", 150), time.Minute},
		{strings.Repeat("word ", 15), 6 * time.Second},
	}
	for _, tt := range tests {
		if got := EstimateDuration(tt.text); got != tt.want {
			t.Errorf("EstimateDuration(%d words) = %v, want %v", len(strings.Fields(tt.text)), got, tt.want)
		}
	}
}

func TestElevenLabs_Synthesize(t *testing.T) {
	var gotBody ttsBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		if r.Header.Get("Accept") != "audio/mpeg" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake-mp3-bytes"))
	}))
	defer srv.Close()

	c := NewElevenLabs(ElevenLabsOptions{APIKey: "secret", BaseURL: srv.URL, ModelID: "eleven_monolingual_v1", MaxChars: 10}, nil)
	stem := filepath.Join(t.TempDir(), "speech")

	out, err := c.Synthesize(context.Background(), Request{Text: "Hello Ana from Lisbon", VoiceID: "voice-123", OutPath: stem})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out != stem+".mp3" {
		t.Errorf("out = %q", out)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "ID3fake-mp3-bytes" {
		t.Errorf("file content = %q", data)
	}
	if gotBody.Text != "Hello Ana " {
		t.Errorf("text not truncated to 10 chars: %q", gotBody.Text)
	}
	if gotBody.ModelID != "eleven_monolingual_v1" || gotBody.VoiceSettings.Stability != 0.5 {
		t.Errorf("unexpected body %+v", gotBody)
	}
}

func TestElevenLabs_DefaultVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/21m00Tcm4TlvDq8ikWAM") {
			t.Errorf("default voice not used: %q", r.URL.Path)
		}
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	c := NewElevenLabs(ElevenLabsOptions{APIKey: "k", BaseURL: srv.URL, VoiceID: "21m00Tcm4TlvDq8ikWAM"}, nil)
	if _, err := c.Synthesize(context.Background(), Request{Text: "hi", OutPath: filepath.Join(t.TempDir(), "s")}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestElevenLabs_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	c := NewElevenLabs(ElevenLabsOptions{APIKey: "bad", BaseURL: srv.URL}, nil)
	_, err := c.Synthesize(context.Background(), Request{Text: "hi", OutPath: filepath.Join(t.TempDir(), "s")})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.IsRetryable() {
		t.Errorf("unexpected APIError %+v", apiErr)
	}
}

func TestElevenLabs_EmptyAudioLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewElevenLabs(ElevenLabsOptions{APIKey: "k", BaseURL: srv.URL}, nil)
	stem := filepath.Join(t.TempDir(), "s")
	if _, err := c.Synthesize(context.Background(), Request{Text: "hi", OutPath: stem}); err == nil {
		t.Fatal("expected error for empty audio")
	}
	if _, err := os.Stat(stem + ".mp3"); !os.IsNotExist(err) {
		t.Errorf("empty mp3 left behind: stat err = %v", err)
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		if got := (&APIError{StatusCode: tt.code}).IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestElevenLabs_ListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"voices":[{"voice_id":"a1","name":"Rachel","category":"premade"},{"voice_id":"b2","name":"Clone","category":"cloned"}]}`))
	}))
	defer srv.Close()

	c := NewElevenLabs(ElevenLabsOptions{APIKey: "k", BaseURL: srv.URL}, nil)
	voices, err := c.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[1].ID != "b2" || voices[1].Category != "cloned" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestPlaceholder_WritesLabeledWAV(t *testing.T) {
	stem := filepath.Join(t.TempDir(), "greeting")
	out, err := Placeholder{}.Synthesize(context.Background(), Request{Text: "Hello there", OutPath: stem})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.HasSuffix(out, "_placeholder.wav") {
		t.Errorf("out = %q", out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("not a WAV header: %q", data[:12])
	}
	// two words is below the one second floor
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if dataSize != placeholderSampleRate*2 {
		t.Errorf("data size = %d, want %d", dataSize, placeholderSampleRate*2)
	}
	if len(data) != 44+int(dataSize) {
		t.Errorf("file length = %d, want %d", len(data), 44+dataSize)
	}
}

type stubProvider struct {
	path string
	err  error
	n    int
}

func (s *stubProvider) Synthesize(ctx context.Context, req Request) (string, error) {
	s.n++
	return s.path, s.err
}

func TestFallback_ProductionSuccess(t *testing.T) {
	p := &stubProvider{path: "/tmp/speech.mp3"}
	f := NewFallback(config.ModeProduction, p, nil)

	res, err := f.Synthesize(context.Background(), Request{Text: "hi", OutPath: filepath.Join(t.TempDir(), "s")})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.IsDegraded() || res.Value != "/tmp/speech.mp3" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestFallback_DemoSkipsProvider(t *testing.T) {
	p := &stubProvider{path: "/tmp/speech.mp3"}
	f := NewFallback(config.ModeDemo, p, nil)

	res, err := f.Synthesize(context.Background(), Request{Text: "hi", OutPath: filepath.Join(t.TempDir(), "s")})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if p.n != 0 {
		t.Error("provider called in demo mode")
	}
	if res.Degraded != outcome.ReasonDemoMode || !strings.HasSuffix(res.Value, "_placeholder.wav") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestFallback_ProviderFailureUsesFallbackAudio(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "original.wav")
	os.WriteFile(original, []byte("RIFF...."), 0644)

	p := &stubProvider{err: &APIError{StatusCode: 500, Body: "boom"}}
	f := NewFallback(config.ModeProduction, p, nil)

	res, err := f.Synthesize(context.Background(), Request{Text: "hi", OutPath: filepath.Join(dir, "s"), FallbackAudio: original})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Degraded != outcome.ReasonProviderFailed || res.Value != original {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Cause == nil {
		t.Error("cause not recorded")
	}
}

func TestFallback_NoProvider(t *testing.T) {
	f := NewFallback(config.ModeProduction, nil, nil)
	res, err := f.Synthesize(context.Background(), Request{Text: "hi", OutPath: filepath.Join(t.TempDir(), "s")})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Degraded != outcome.ReasonUnavailable {
		t.Errorf("Degraded = %q", res.Degraded)
	}
}

func TestFallback_CanceledContextIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProvider{err: context.Canceled}
	f := NewFallback(config.ModeProduction, p, nil)

	if _, err := f.Synthesize(ctx, Request{Text: "hi", OutPath: filepath.Join(t.TempDir(), "s")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
