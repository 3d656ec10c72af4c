// Package jobs persists personalized video requests and processes them in
// the background.
package jobs

import (
	"time"

	"github.com/personaliz/personaliz-server/internal/outcome"
)

const (
	VideoStatusPending    = "pending"
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// Video is one personalized video request and its result.
type Video struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	City          string         `json:"city"`
	Phone         string         `json:"phone,omitempty"`
	TemplateID    string         `json:"template_id"`
	VoiceID       string         `json:"voice_id,omitempty"`
	CustomMessage string         `json:"custom_message,omitempty"`
	Status        string         `json:"status"`
	Script        string         `json:"script,omitempty"`
	OutputPath    string         `json:"-"`
	VideoURL      string         `json:"video_url,omitempty"`
	ThumbnailURL  string         `json:"thumbnail_url,omitempty"`
	FileSize      int64          `json:"file_size,omitempty"`
	Duration      float64        `json:"duration,omitempty"`
	Degraded      []outcome.Note `json:"degraded,omitempty"`
	MessageID     string         `json:"message_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// IsFinished reports whether the video reached a terminal status.
func (v *Video) IsFinished() bool {
	return v.Status == VideoStatusCompleted || v.Status == VideoStatusFailed
}

// CreateVideoRequest is the input to Service.CreateVideo.
type CreateVideoRequest struct {
	Name          string `json:"name"`
	City          string `json:"city"`
	Phone         string `json:"phone,omitempty"`
	TemplateID    string `json:"template_id,omitempty"`
	VoiceID       string `json:"voice_id,omitempty"`
	CustomMessage string `json:"custom_message,omitempty"`
}

// MaxBulkVideos caps the requests accepted by one CreateVideos call.
const MaxBulkVideos = 100

// BulkError reports why one entry of a bulk request was rejected.
type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkResult is the outcome of Service.CreateVideos. Accepted entries are
// queued even when others fail.
type BulkResult struct {
	Created []*Video    `json:"created"`
	Errors  []BulkError `json:"errors,omitempty"`
}
