package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/jobs"
	"github.com/personaliz/personaliz-server/internal/lipsync"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/messaging"
	"github.com/personaliz/personaliz-server/internal/playback"
	"github.com/personaliz/personaliz-server/internal/script"
	"github.com/personaliz/personaliz-server/internal/voice"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// VideoService creates and looks up personalized video requests.
type VideoService interface {
	CreateVideo(ctx context.Context, req jobs.CreateVideoRequest) (*jobs.Video, error)
	CreateVideos(ctx context.Context, reqs []jobs.CreateVideoRequest) (*jobs.BulkResult, error)
	GetVideo(ctx context.Context, id string) (*jobs.Video, error)
	ListVideos(ctx context.Context, limit int) ([]*jobs.Video, error)
	DeleteVideo(ctx context.Context, id string) (bool, error)
}

// MediaInspector reads stream metadata from a media file.
type MediaInspector interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// Merger runs a synchronous head splice.
type Merger interface {
	Merge(ctx context.Context, req media.MergeRequest) media.MergeResult
}

// MessageService sends messages and tracks their delivery.
type MessageService interface {
	Provider() string
	Send(ctx context.Context, videoID string, msg messaging.Message) (*messaging.Record, error)
	Status(ctx context.Context, id string) (*messaging.Record, error)
	HandleStatus(ctx context.Context, u messaging.StatusUpdate) error
	Analytics(ctx context.Context, since time.Time) (messaging.Analytics, error)
}

// VoiceLister lists the TTS provider's voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]voice.Voice, error)
}

// ConfigStore reads persisted settings such as the API token.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type ServerConfig struct {
	Port      int
	BindAll   bool
	Mode      config.ServiceMode
	UploadDir string
	RateLimit int

	Videos    VideoService
	Runner    *jobs.Runner
	Merger    Merger
	Media     MediaInspector
	Scripts   *script.Service
	Voices    VoiceLister
	Messages  MessageService
	Doctor    *lipsync.CachedDoctor
	Uploads   *playback.Server
	Store     ConfigStore
	Publisher string

	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	host := "127.0.0.1"
	if cfg.BindAll {
		host = ""
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Merge requests and range playback can run for minutes.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
