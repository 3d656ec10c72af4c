package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/tidwall/gjson"

	"github.com/personaliz/personaliz-server/internal/logging"
)

// ElevenLabsOptions configures an ElevenLabs client.
type ElevenLabsOptions struct {
	APIKey   string
	BaseURL  string
	VoiceID  string // default voice
	ModelID  string
	MaxChars int // longer text is truncated
	Timeout  time.Duration
}

// ElevenLabs is the HTTP client for the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	opts       ElevenLabsOptions
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*ElevenLabs)(nil)

// NewElevenLabs creates a client.
func NewElevenLabs(opts ElevenLabsOptions, logger *slog.Logger) *ElevenLabs {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxChars == 0 {
		opts.MaxChars = 500
	}
	return &ElevenLabs{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logging.WithComponent(logging.OrDiscard(logger), "elevenlabs"),
	}
}

type ttsBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize writes MP3 speech to req.OutPath + ".mp3".
func (c *ElevenLabs) Synthesize(ctx context.Context, req Request) (string, error) {
	text := req.Text
	if runes := []rune(text); len(runes) > c.opts.MaxChars {
		text = string(runes[:c.opts.MaxChars])
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = c.opts.VoiceID
	}

	body, err := json.Marshal(ttsBody{
		Text:          text,
		ModelID:       c.opts.ModelID,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return "", fmt.Errorf("marshal tts payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.opts.BaseURL, url.PathEscape(voiceID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.opts.APIKey)

	c.logger.Info("requesting speech", "voice_id", voiceID, "chars", len(text))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out := req.OutPath + ".mp3"
	n, err := writeAtomically(out, resp.Body)
	if err != nil {
		return "", fmt.Errorf("write speech: %w", err)
	}
	if n == 0 {
		os.Remove(out)
		return "", fmt.Errorf("provider returned empty audio")
	}

	c.logger.Info("speech synthesized", "voice_id", voiceID, "bytes", n)
	return out, nil
}

// ListVoices returns the voices available to the account.
func (c *ElevenLabs) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := c.get(ctx, "/v1/voices")
	if err != nil {
		return nil, err
	}

	var voices []Voice
	gjson.GetBytes(body, "voices").ForEach(func(_, v gjson.Result) bool {
		voices = append(voices, Voice{
			ID:       v.Get("voice_id").String(),
			Name:     v.Get("name").String(),
			Category: v.Get("category").String(),
		})
		return true
	})
	return voices, nil
}

// Ping verifies the API key by fetching the account.
func (c *ElevenLabs) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/v1/user")
	return err
}

func (c *ElevenLabs) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.opts.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 4096)}
	}
	return body, nil
}

// writeAtomically streams r into path through a pending file.
func writeAtomically(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return 0, err
	}
	defer pf.Cleanup()

	n, err := io.Copy(pf, r)
	if err != nil {
		return n, err
	}
	return n, pf.CloseAtomicallyReplace()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
