package api

import (
	"time"

	"github.com/personaliz/personaliz-server/internal/jobs"
	"github.com/personaliz/personaliz-server/internal/messaging"
	"github.com/personaliz/personaliz-server/internal/outcome"
	"github.com/personaliz/personaliz-server/internal/script"
	"github.com/personaliz/personaliz-server/internal/voice"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	Mode    string `json:"mode"`
}

type StatusResponse struct {
	Mode      string         `json:"mode"`
	State     string         `json:"state"`
	Active    int            `json:"active_videos"`
	LastError string         `json:"last_error,omitempty"`
	Providers ProviderStatus `json:"providers"`
	LipSync   *LipSyncStatus `json:"lipsync,omitempty"`
}

type ProviderStatus struct {
	Voice    string `json:"voice"`
	LipSync  string `json:"lipsync"`
	WhatsApp string `json:"whatsapp"`
	Storage  string `json:"storage"`
}

type LipSyncStatus struct {
	Available   bool   `json:"available"`
	Python      string `json:"python,omitempty"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type CreateVideoResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type BulkCreateRequest struct {
	Videos []jobs.CreateVideoRequest `json:"videos"`
}

type BulkCreateResponse struct {
	Created []CreateVideoResponse `json:"created"`
	Errors  []jobs.BulkError      `json:"errors,omitempty"`
}

type VideoResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	City         string         `json:"city"`
	Phone        string         `json:"phone,omitempty"`
	TemplateID   string         `json:"template_id"`
	Status       string         `json:"status"`
	VideoURL     string         `json:"video_url,omitempty"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	FileSize     int64          `json:"file_size,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
	Degraded     []outcome.Note `json:"degraded,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	CompletedAt  string         `json:"completed_at,omitempty"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type TemplatesResponse struct {
	Templates []script.Template `json:"templates"`
}

type PreviewRequest struct {
	TemplateID string `json:"template_id"`
	script.UserData
}

type VoicesResponse struct {
	Voices []voice.Voice `json:"voices"`
	Demo   bool          `json:"demo"`
}

type SendMessageRequest struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
	VideoID  string `json:"video_id,omitempty"`
}

type MessageResponse struct {
	ID           string `json:"id"`
	VideoID      string `json:"video_id,omitempty"`
	To           string `json:"to"`
	Provider     string `json:"provider"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type AnalyticsResponse struct {
	Days int `json:"days"`
	messaging.Analytics
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *jobs.Video) VideoResponse {
	resp := VideoResponse{
		ID:           v.ID,
		Name:         v.Name,
		City:         v.City,
		Phone:        maskedPhone(v.Phone),
		TemplateID:   v.TemplateID,
		Status:       v.Status,
		VideoURL:     v.VideoURL,
		ThumbnailURL: v.ThumbnailURL,
		FileSize:     v.FileSize,
		Duration:     v.Duration,
		Degraded:     v.Degraded,
		MessageID:    v.MessageID,
		Error:        v.Error,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    v.UpdatedAt.Format(time.RFC3339),
	}
	if v.CompletedAt != nil {
		resp.CompletedAt = v.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func MessageToResponse(m *messaging.Record) MessageResponse {
	return MessageResponse{
		ID:           m.ID,
		VideoID:      m.VideoID,
		To:           maskedPhone(m.To),
		Provider:     m.Provider,
		Status:       m.Status,
		ErrorCode:    m.ErrorCode,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    m.UpdatedAt.Format(time.RFC3339),
	}
}
