package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/personaliz/personaliz-server/internal/api"
	"github.com/personaliz/personaliz-server/internal/config"
	"github.com/personaliz/personaliz-server/internal/db"
	"github.com/personaliz/personaliz-server/internal/janitor"
	"github.com/personaliz/personaliz-server/internal/jobs"
	"github.com/personaliz/personaliz-server/internal/lipsync"
	"github.com/personaliz/personaliz-server/internal/logging"
	"github.com/personaliz/personaliz-server/internal/media"
	"github.com/personaliz/personaliz-server/internal/messaging"
	"github.com/personaliz/personaliz-server/internal/pipeline"
	"github.com/personaliz/personaliz-server/internal/playback"
	"github.com/personaliz/personaliz-server/internal/script"
	"github.com/personaliz/personaliz-server/internal/storage"
	"github.com/personaliz/personaliz-server/internal/voice"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.ScratchDir(), cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting personaliz server", "version", config.Version, "mode", cfg.Mode(), "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	if applied, err := database.Applied(context.Background()); err == nil {
		logger.Debug("database ready", "path", cfg.DBPath(), "migrations", applied)
	}

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	execRunner := media.NewExecRunner(logger)
	prober := media.NewProber(cfg.FFprobePath(), execRunner, cfg.ProbeTimeout(), logger)
	extractor := media.NewExtractor(cfg.FFmpegPath(), execRunner, cfg.ExtractTimeout(), logger)
	builder := media.NewBuilder(cfg.FFmpegPath(), execRunner, cfg.ExtractTimeout(), logger)
	splicer := media.NewSplicer(media.SplicerConfig{
		FFmpegPath:      cfg.FFmpegPath(),
		Runner:          execRunner,
		Extractor:       extractor,
		Prober:          prober,
		ScratchRoot:     cfg.ScratchDir(),
		OutputDir:       cfg.OutputDir(),
		MinOutputBytes:  cfg.MinOutputBytes(),
		CrossfadeOffset: cfg.CrossfadeOffset().Seconds(),
		Timeout:         cfg.SpliceTimeout(),
		Logger:          logger,
	})
	finisher := media.NewFinisher(cfg.FFmpegPath(), execRunner, cfg.ExtractTimeout(), cfg.MinOutputBytes(), logger)

	var (
		tts    voice.Provider
		voices api.VoiceLister
	)
	if el := cfg.ElevenLabs(); el.Enabled() {
		client := voice.NewElevenLabs(voice.ElevenLabsOptions{
			APIKey:   el.APIKey,
			BaseURL:  el.BaseURL,
			VoiceID:  el.VoiceID,
			ModelID:  el.ModelID,
			MaxChars: el.MaxChars,
		}, logger)
		tts, voices = client, client
	}

	syncer, doctor := newLipSync(ctx, cfg, execRunner, logger)

	orchestrator := pipeline.New(pipeline.Config{
		Prober:    prober,
		Extractor: extractor,
		Builder:   builder,
		Splicer:   splicer,
		Voice:     voice.NewFallback(cfg.Mode(), tts, logger),
		LipSync:   lipsync.NewFallback(cfg.Mode(), syncer, doctor, logger),
		Policy: pipeline.FixedWindowPolicy{
			Greeting: cfg.GreetingWindow().Seconds(),
			Closing:  cfg.ClosingWindow().Seconds(),
		},
		ScratchRoot: cfg.ScratchDir(),
		OutputDir:   cfg.OutputDir(),
		Logger:      logger,
	})

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	messenger := messaging.NewManager(sender, repo, logger)

	scripts := script.NewService()
	videoSvc := jobs.NewService(jobs.ServiceConfig{
		Repo:          repo,
		Scripts:       scripts,
		Pipeline:      orchestrator,
		Finisher:      finisher,
		Publisher:     publisher,
		Messenger:     messenger,
		BaseVideoPath: cfg.BaseVideoPath(),
		Overlay:       cfg.OverlayEnabled(),
		Logger:        logger,
	})
	runner := jobs.NewRunner(videoSvc, repo, cfg.Workers(), cfg.PollInterval(), logger)

	sweeper, err := janitor.New(cfg.ScratchDir(), cfg.ScratchTTL(), cfg.CleanupSchedule(), logger)
	if err != nil {
		return fmt.Errorf("failed to schedule scratch cleanup: %w", err)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		BindAll:   cfg.BindAll(),
		Mode:      cfg.Mode(),
		UploadDir: cfg.UploadDir(),
		RateLimit: cfg.RateLimit(),
		Videos:    videoSvc,
		Runner:    runner,
		Merger:    splicer,
		Media:     prober,
		Scripts:   scripts,
		Voices:    voices,
		Messages:  messenger,
		Doctor:    doctor,
		Uploads:   playback.NewServer(cfg.UploadDir(), logger, hiddenDirs(cfg.UploadDir(), cfg.ScratchDir(), filepath.Dir(cfg.BaseVideoPath()))...),
		Store:     repo,
		Publisher: publisher.Name(),
		Logger:    logger,
		StartTime: startTime,
	})

	host := "127.0.0.1"
	if cfg.BindAll() {
		host = "0.0.0.0"
	}
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 PERSONALIZ SERVER v%-22s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://%s:%-*d ║\n", host, 36-len(host), cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Mode:       %-45s ║\n", cfg.Mode())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// newLipSync returns nil collaborators when Wav2Lip is not configured or
// python cannot be found; the fallback then degrades every clip.
func newLipSync(ctx context.Context, cfg *config.EnvConfig, runner media.CommandRunner, logger *slog.Logger) (lipsync.Syncer, *lipsync.CachedDoctor) {
	wl := cfg.Wav2Lip()
	if !wl.Enabled() {
		return nil, nil
	}

	w, err := lipsync.NewWav2Lip(lipsync.Config{
		PythonPath: wl.Python,
		Script:     wl.Script,
		Checkpoint: wl.Checkpoint,
		Timeout:    cfg.LipSyncTimeout(),
		Runner:     runner,
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("lip-sync runner unavailable", "error", err)
		return nil, nil
	}

	doctor := lipsync.NewCachedDoctor(lipsync.NewChecker(w), logger)
	if caps, err := doctor.Refresh(ctx); err != nil {
		logger.Warn("initial lip-sync probe failed", "error", err)
	} else {
		logger.Info("lip-sync capabilities detected", "available", caps.Available(), "python", caps.Python)
	}
	return w, doctor
}

// hiddenDirs returns the dirs that sit under root, relative to it, so the
// upload server can refuse them.
func hiddenDirs(root string, dirs ...string) []string {
	var rels []string
	for _, d := range dirs {
		rel, err := filepath.Rel(root, d)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	return rels
}

func newPublisher(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger) (storage.Publisher, error) {
	if s3cfg := cfg.S3(); s3cfg.Enabled() {
		p, err := storage.NewS3Publisher(ctx, s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3: %w", err)
		}
		logger.Info("publishing videos to s3", "bucket", s3cfg.Bucket)
		return p, nil
	}
	return storage.NewLocalPublisher(cfg.UploadDir(), cfg.BaseURL()), nil
}

func newSender(cfg *config.EnvConfig, logger *slog.Logger) (messaging.Sender, error) {
	if cfg.Mode().IsDemo() {
		return messaging.NewDemoSender(logger), nil
	}

	wa := cfg.WhatsApp()
	switch wa.Provider {
	case "web":
		return messaging.NewWebSender(wa.ProfileDir, true, 0, logger)
	default:
		if !wa.TwilioEnabled() {
			logger.Warn("twilio credentials missing, falling back to demo delivery")
			return messaging.NewDemoSender(logger), nil
		}
		callback := cfg.BaseURL() + "/api/webhooks/whatsapp/status"
		return messaging.NewTwilioSender(wa.AccountSID, wa.AuthToken, wa.From, callback, logger), nil
	}
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
