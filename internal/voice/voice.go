// Package voice synthesizes personalized speech with ElevenLabs and falls
// back to labeled placeholder audio when the provider is not usable.
package voice

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request asks for speech of Text in VoiceID.
type Request struct {
	Text    string
	VoiceID string
	// OutPath is a path stem; providers append their own suffix and extension.
	OutPath string
	// FallbackAudio, when set, is used instead of generated silence if the
	// provider cannot be used.
	FallbackAudio string
}

// Provider is a real TTS backend.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// Voice is one selectable voice.
type Voice struct {
	ID       string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// APIError represents a non-2xx response from the TTS provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tts request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting.
// Other client errors (4xx) are considered permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

const wordsPerMinute = 150

// EstimateDuration estimates how long text takes to speak at 150 words per minute.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	return time.Duration(words) * time.Minute / wordsPerMinute
}

// DemoVoices is the catalog reported when no provider key is configured.
var DemoVoices = []Voice{
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Category: "premade"},
	{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Category: "premade"},
	{ID: "EXAVITQu4vr4xnSDxMaL", Name: "Bella", Category: "premade"},
	{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Category: "premade"},
}
