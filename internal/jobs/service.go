package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/messaging"
	"github.com/personaliz/personaliz-server/internal/pipeline"
	"github.com/personaliz/personaliz-server/internal/script"
	"github.com/personaliz/personaliz-server/internal/storage"
)

var (
	// ErrValidation marks a request rejected before anything was stored.
	ErrValidation = errors.New("validation failed")
	// ErrVideoBusy is returned when deleting a video a worker holds.
	ErrVideoBusy = errors.New("video is processing")
)

// DefaultTemplateID is used when a request names no template.
const DefaultTemplateID = "marketing_intro"

const (
	thumbnailOffset = 2.0
	overlaySeconds  = 3.0
)

// Pipeline produces a personalized video.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Result
}

// Finisher post-processes a finished video.
type Finisher interface {
	Thumbnail(ctx context.Context, video string, offset float64, out string) (string, error)
	Overlay(ctx context.Context, video, text string, until float64, out string) (string, error)
}

// Deliverer sends a finished video to its recipient.
type Deliverer interface {
	Send(ctx context.Context, videoID string, msg messaging.Message) (*messaging.Record, error)
}

// ServiceConfig wires a Service. Finisher and Messenger are optional.
type ServiceConfig struct {
	Repo          Repository
	Scripts       *script.Service
	Pipeline      Pipeline
	Finisher      Finisher
	Publisher     storage.Publisher
	Messenger     Deliverer
	BaseVideoPath string
	Overlay       bool
	Logger        *slog.Logger
}

type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:    cfg,
		logger: logging.WithComponent(logging.OrDiscard(cfg.Logger), "jobs"),
	}
}

// CreateVideo validates req and stores a pending video.
func (s *Service) CreateVideo(ctx context.Context, req CreateVideoRequest) (*Video, error) {
	name := strings.TrimSpace(req.Name)
	city := strings.TrimSpace(req.City)
	if name == "" || city == "" {
		return nil, fmt.Errorf("%w: name and city are required", ErrValidation)
	}

	phone := ""
	if strings.TrimSpace(req.Phone) != "" {
		p, err := messaging.NormalizePhone(req.Phone)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		phone = p
	}

	templateID := req.TemplateID
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	if _, err := s.cfg.Scripts.Template(templateID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	v := &Video{
		ID:            uuid.NewString(),
		Name:          name,
		City:          city,
		Phone:         phone,
		TemplateID:    templateID,
		VoiceID:       req.VoiceID,
		CustomMessage: strings.TrimSpace(req.CustomMessage),
		Status:        VideoStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.cfg.Repo.CreateVideo(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Info("video queued", "video_id", v.ID, "template_id", templateID, "phone", logging.MaskPhone(phone))
	return v, nil
}

// CreateVideos validates and queues each request independently.
func (s *Service) CreateVideos(ctx context.Context, reqs []CreateVideoRequest) (*BulkResult, error) {
	switch {
	case len(reqs) == 0:
		return nil, fmt.Errorf("%w: no videos requested", ErrValidation)
	case len(reqs) > MaxBulkVideos:
		return nil, fmt.Errorf("%w: at most %d videos per request", ErrValidation, MaxBulkVideos)
	}

	res := &BulkResult{Created: make([]*Video, 0, len(reqs))}
	for i, req := range reqs {
		v, err := s.CreateVideo(ctx, req)
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				return res, fmt.Errorf("create video %d: %w", i, err)
			}
			res.Errors = append(res.Errors, BulkError{Index: i, Error: err.Error()})
			continue
		}
		res.Created = append(res.Created, v)
	}
	s.logger.Info("bulk videos queued", "requested", len(reqs), "created", len(res.Created))
	return res, nil
}

// DeleteVideo removes a video and its local files: the output, its
// thumbnail and, for overlaid videos, the pre-overlay cut. It reports
// false when the video does not exist.
func (s *Service) DeleteVideo(ctx context.Context, id string) (bool, error) {
	v, err := s.cfg.Repo.GetVideo(ctx, id)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	if v.Status == VideoStatusProcessing {
		return false, ErrVideoBusy
	}

	ok, err := s.cfg.Repo.DeleteVideo(ctx, id)
	if err != nil || !ok {
		return ok, err
	}

	logger := logging.WithVideoID(s.logger, id)
	for _, p := range videoFiles(v.OutputPath) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove video file", "path", p, "error", err)
		}
	}
	logger.Info("video deleted")
	return true, nil
}

// videoFiles lists the files ExecuteVideo may have written for output.
func videoFiles(output string) []string {
	if output == "" {
		return nil
	}
	stem := strings.TrimSuffix(output, filepath.Ext(output))
	files := []string{output, stem + "_thumb.jpg"}
	if base, ok := strings.CutSuffix(stem, "_overlay"); ok {
		files = append(files, base+filepath.Ext(output))
	}
	return files
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	return s.cfg.Repo.GetVideo(ctx, id)
}

func (s *Service) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	return s.cfg.Repo.ListVideos(ctx, limit)
}

// ExecuteVideo produces, publishes and delivers a claimed video. The final
// status is always written back; the returned error is the failure cause.
func (s *Service) ExecuteVideo(ctx context.Context, v *Video) error {
	logger := logging.WithVideoID(s.logger, v.ID)
	logger.Info("starting video")

	err := s.produce(ctx, v, logger)
	now := time.Now().UTC()
	v.UpdatedAt = now
	if err != nil {
		v.Status = VideoStatusFailed
		v.Error = err.Error()
		logger.Error("video failed", "error", err)
	} else {
		v.Status = VideoStatusCompleted
		v.Error = ""
		v.CompletedAt = &now
		logger.Info("video completed", "url", v.VideoURL, "degraded", len(v.Degraded))
	}

	// The request context may already be cancelled; the status must still land.
	if uerr := s.cfg.Repo.UpdateVideo(context.WithoutCancel(ctx), v); uerr != nil {
		return errors.Join(err, fmt.Errorf("update video: %w", uerr))
	}
	return err
}

func (s *Service) produce(ctx context.Context, v *Video, logger *slog.Logger) error {
	sc, err := s.cfg.Scripts.Generate(v.TemplateID, script.UserData{
		Name:          v.Name,
		City:          v.City,
		Phone:         v.Phone,
		CustomMessage: v.CustomMessage,
	})
	if err != nil {
		return fmt.Errorf("generate script: %w", err)
	}
	v.Script = sc.Content

	res := s.cfg.Pipeline.Run(ctx, pipeline.Request{
		ID:            v.ID,
		BaseVideoPath: s.cfg.BaseVideoPath,
		VoiceID:       v.VoiceID,
		Lines:         sc.Lines(),
	})
	v.Degraded = res.Degraded
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Error)
	}
	v.OutputPath = res.OutputPath
	v.FileSize = res.FileSize
	v.Duration = res.Duration

	if s.cfg.Overlay && s.cfg.Finisher != nil {
		s.overlay(ctx, v, logger)
	}

	if err := s.publish(ctx, v, logger); err != nil {
		return err
	}

	if v.Phone != "" && s.cfg.Messenger != nil {
		s.deliver(ctx, v, logger)
	}
	return nil
}

// overlay burns the recipient's name over the opening seconds. Failure
// keeps the un-overlaid video.
func (s *Service) overlay(ctx context.Context, v *Video, logger *slog.Logger) {
	out := strings.TrimSuffix(v.OutputPath, filepath.Ext(v.OutputPath)) + "_overlay.mp4"
	if _, err := s.cfg.Finisher.Overlay(ctx, v.OutputPath, "Hi "+v.Name+"!", overlaySeconds, out); err != nil {
		logger.Warn("overlay failed, keeping video without it", "error", err)
		return
	}
	if err := os.Remove(v.OutputPath); err != nil {
		logger.Debug("failed to remove pre-overlay video", "error", err)
	}
	v.OutputPath = out
	if info, err := os.Stat(out); err == nil {
		v.FileSize = info.Size()
	}
}

// publish uploads the video and its thumbnail concurrently. A missing
// thumbnail does not fail the video.
func (s *Service) publish(ctx context.Context, v *Video, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		url, err := s.cfg.Publisher.Publish(gctx, v.OutputPath)
		if err != nil {
			return fmt.Errorf("publish video: %w", err)
		}
		v.VideoURL = url
		return nil
	})

	if s.cfg.Finisher != nil {
		g.Go(func() error {
			thumb := strings.TrimSuffix(v.OutputPath, filepath.Ext(v.OutputPath)) + "_thumb.jpg"
			if _, err := s.cfg.Finisher.Thumbnail(gctx, v.OutputPath, thumbnailOffset, thumb); err != nil {
				logger.Warn("thumbnail failed", "error", err)
				return nil
			}
			url, err := s.cfg.Publisher.Publish(gctx, thumb)
			if err != nil {
				logger.Warn("thumbnail publish failed", "error", err)
				return nil
			}
			v.ThumbnailURL = url
			return nil
		})
	}

	return g.Wait()
}

// deliver sends the video over WhatsApp. Delivery failures are recorded on
// the message, not on the video.
func (s *Service) deliver(ctx context.Context, v *Video, logger *slog.Logger) {
	rec, err := s.cfg.Messenger.Send(ctx, v.ID, messaging.Message{
		To:        v.Phone,
		Body:      fmt.Sprintf("Hi %s! Here is your personalized video.", v.Name),
		MediaURL:  v.VideoURL,
		MediaPath: v.OutputPath,
	})
	if rec != nil {
		v.MessageID = rec.ID
	}
	if err != nil {
		logger.Warn("delivery failed", "error", err)
	}
}
