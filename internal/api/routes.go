package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/jobs"
	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/messaging"
	"github.com/personaliz/personaliz-server/internal/script"
	"github.com/personaliz/personaliz-server/internal/voice"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Uploads != nil {
		r.Handle("/uploads/*", http.StripPrefix("/uploads", cfg.Uploads.Handler()))
	}
	r.Post("/api/webhooks/whatsapp/status", whatsappStatusHandler(cfg))

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = config.DefaultRateLimit
	}
	rateLimited := RateLimitMiddleware(limit)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Store, cfg.Logger))

		r.Get("/api/status", statusHandler(cfg))

		r.With(rateLimited).Post("/api/videos", createVideoHandler(cfg))
		r.With(rateLimited).Post("/api/videos/bulk", bulkCreateHandler(cfg))
		r.Get("/api/videos", listVideosHandler(cfg))
		r.Get("/api/videos/{id}", getVideoHandler(cfg))
		r.Delete("/api/videos/{id}", deleteVideoHandler(cfg))
		r.With(rateLimited).Post("/api/videos/merge", mergeHandler(cfg))
		r.Get("/api/media/info", mediaInfoHandler(cfg))

		r.Get("/api/templates", listTemplatesHandler(cfg))
		r.Post("/api/templates/preview", previewTemplateHandler(cfg))
		r.Get("/api/voices", listVoicesHandler(cfg))

		r.Post("/api/messages", sendMessageHandler(cfg))
		r.Get("/api/messages/analytics", analyticsHandler(cfg))
		r.Get("/api/messages/{id}", getMessageHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
			Mode:    string(cfg.Mode),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Mode:  string(cfg.Mode),
			State: "idle",
			Providers: ProviderStatus{
				Voice:    "placeholder",
				LipSync:  "disabled",
				WhatsApp: "none",
				Storage:  cfg.Publisher,
			},
		}

		if cfg.Runner != nil {
			resp.Active = cfg.Runner.Active()
			switch {
			case cfg.Runner.IsPaused():
				resp.State = "paused"
			case resp.Active > 0:
				resp.State = "processing"
			}
		}

		if cfg.Videos != nil {
			videos, _ := cfg.Videos.ListVideos(r.Context(), 10)
			for _, v := range videos {
				if v.Status == jobs.VideoStatusFailed {
					resp.LastError = v.Error
					break
				}
			}
		}

		if !cfg.Mode.IsDemo() && cfg.Voices != nil {
			resp.Providers.Voice = "elevenlabs"
		}
		if cfg.Messages != nil {
			resp.Providers.WhatsApp = cfg.Messages.Provider()
		}
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.LipSync = &LipSyncStatus{
					Available:   caps.Available(),
					Python:      caps.Python,
					Error:       caps.Error,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
				}
				if !cfg.Mode.IsDemo() {
					resp.Providers.LipSync = "unavailable"
					if caps.Available() {
						resp.Providers.LipSync = "wav2lip"
					}
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobs.CreateVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		video, err := cfg.Videos.CreateVideo(r.Context(), req)
		if err != nil {
			if errors.Is(err, jobs.ErrValidation) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to create video", "INTERNAL_ERROR")
			return
		}

		if cfg.Runner != nil {
			cfg.Runner.Wake()
		}
		WriteJSON(w, http.StatusAccepted, CreateVideoResponse{ID: video.ID, Status: video.Status})
	}
}

func bulkCreateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BulkCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		res, err := cfg.Videos.CreateVideos(r.Context(), req.Videos)
		if err != nil {
			if errors.Is(err, jobs.ErrValidation) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("bulk create failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to create videos", "INTERNAL_ERROR")
			return
		}

		resp := BulkCreateResponse{Created: make([]CreateVideoResponse, len(res.Created)), Errors: res.Errors}
		for i, v := range res.Created {
			resp.Created[i] = CreateVideoResponse{ID: v.ID, Status: v.Status}
		}
		if len(res.Created) > 0 && cfg.Runner != nil {
			cfg.Runner.Wake()
		}
		WriteJSON(w, http.StatusAccepted, resp)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 50, 1, 200)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		videos, err := cfg.Videos.ListVideos(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		video, err := cfg.Videos.GetVideo(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if video == nil {
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(video))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := cfg.Videos.DeleteVideo(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, jobs.ErrVideoBusy):
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		case !ok:
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// mediaInfoHandler reports stream metadata for a file under the upload root.
func mediaInfoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Media == nil {
			WriteError(w, http.StatusServiceUnavailable, "media inspection unavailable", "UNAVAILABLE")
			return
		}
		p := r.URL.Query().Get("path")
		if p == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		full, err := resolveUpload(cfg.UploadDir, p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		info, err := cfg.Media.Probe(r.Context(), full)
		switch {
		case errors.Is(err, media.ErrInputNotFound):
			WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
		case errors.Is(err, media.ErrNoVideoStream):
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "NO_VIDEO_STREAM")
		case err != nil:
			cfg.Logger.Warn("media info failed", "path", full, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read media info", "INTERNAL_ERROR")
		default:
			WriteJSON(w, http.StatusOK, info)
		}
	}
}

// mergeHandler runs a synchronous head splice. Paths are resolved against
// the upload root and may not leave it.
func mergeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req media.MergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.BaseVideoPath == "" || req.PersonalizedSegmentPath == "" {
			WriteError(w, http.StatusBadRequest, "base_video_path and personalized_segment_path are required", "BAD_REQUEST")
			return
		}
		if req.SegmentDuration <= 0 {
			WriteError(w, http.StatusBadRequest, "segment_duration must be positive", "BAD_REQUEST")
			return
		}

		var err error
		for _, p := range []*string{&req.BaseVideoPath, &req.PersonalizedSegmentPath, &req.OutputPath} {
			if *p == "" {
				continue
			}
			if *p, err = resolveUpload(cfg.UploadDir, *p); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		result := cfg.Merger.Merge(r.Context(), req)
		if !result.Success {
			WriteJSON(w, http.StatusInternalServerError, result)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func listTemplatesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var templates []script.Template
		if q := r.URL.Query().Get("q"); q != "" {
			templates = cfg.Scripts.Search(q)
		} else {
			templates = cfg.Scripts.Templates()
		}
		if templates == nil {
			templates = []script.Template{}
		}
		WriteJSON(w, http.StatusOK, TemplatesResponse{Templates: templates})
	}
}

func previewTemplateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.TemplateID == "" {
			req.TemplateID = jobs.DefaultTemplateID
		}

		sc, err := cfg.Scripts.Generate(req.TemplateID, req.UserData)
		if err != nil {
			if errors.Is(err, script.ErrTemplateNotFound) {
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, sc)
	}
}

func listVoicesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Mode.IsDemo() || cfg.Voices == nil {
			WriteJSON(w, http.StatusOK, VoicesResponse{Voices: voice.DemoVoices, Demo: true})
			return
		}

		voices, err := cfg.Voices.ListVoices(r.Context())
		if err != nil {
			cfg.Logger.Warn("voice listing failed, returning demo voices", "error", err)
			WriteJSON(w, http.StatusOK, VoicesResponse{Voices: voice.DemoVoices, Demo: true})
			return
		}
		WriteJSON(w, http.StatusOK, VoicesResponse{Voices: voices})
	}
}

func sendMessageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Body) == "" && req.MediaURL == "" {
			WriteError(w, http.StatusBadRequest, "body or media_url is required", "BAD_REQUEST")
			return
		}

		rec, err := cfg.Messages.Send(r.Context(), req.VideoID, messaging.Message{
			To:       req.To,
			Body:     req.Body,
			MediaURL: req.MediaURL,
		})
		if err != nil {
			if errors.Is(err, messaging.ErrInvalidPhone) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusBadGateway, err.Error(), "DELIVERY_FAILED")
			return
		}
		WriteJSON(w, http.StatusCreated, MessageToResponse(rec))
	}
}

func getMessageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := cfg.Messages.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, messaging.ErrUnknownMessage) {
				WriteError(w, http.StatusNotFound, "message not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, MessageToResponse(rec))
	}
}

func analyticsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := queryInt(r, "days", 7, 1, 365)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		since := time.Now().AddDate(0, 0, -days)
		a, err := cfg.Messages.Analytics(r.Context(), since)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to compute analytics", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, AnalyticsResponse{Days: days, Analytics: a})
	}
}

// whatsappStatusHandler receives Twilio delivery callbacks. It is mounted
// outside the auth group because Twilio cannot send our bearer token.
func whatsappStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid form body", "BAD_REQUEST")
			return
		}

		update := messaging.StatusUpdate{
			MessageID:    firstNonEmpty(r.PostForm.Get("MessageSid"), r.PostForm.Get("SmsSid")),
			Status:       firstNonEmpty(r.PostForm.Get("MessageStatus"), r.PostForm.Get("SmsStatus")),
			From:         r.PostForm.Get("From"),
			To:           r.PostForm.Get("To"),
			ErrorCode:    r.PostForm.Get("ErrorCode"),
			ErrorMessage: r.PostForm.Get("ErrorMessage"),
		}

		err := cfg.Messages.HandleStatus(r.Context(), update)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, messaging.ErrInvalidStatus):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		case errors.Is(err, messaging.ErrUnknownMessage):
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		default:
			cfg.Logger.Error("status callback failed", "message_id", update.MessageID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to record status", "INTERNAL_ERROR")
		}
	}
}

func resolveUpload(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(filepath.Clean(root), p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the upload directory", p)
	}
	return p, nil
}

func queryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func maskedPhone(p string) string {
	if p == "" {
		return ""
	}
	return logging.MaskPhone(p)
}
