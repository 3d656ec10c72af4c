// Package config provides configuration management for the Personaliz server.
// Configuration is loaded from environment variables (optionally seeded from a
// .env file) with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceMode selects whether collaborators talk to real providers or
// produce labeled placeholder output.
type ServiceMode string

const (
	ModeDemo       ServiceMode = "demo"
	ModeProduction ServiceMode = "production"
)

// IsDemo reports whether the mode is demo.
func (m ServiceMode) IsDemo() bool { return m == ModeDemo }

// ParseServiceMode parses a mode string. Empty input yields demo.
func ParseServiceMode(s string) (ServiceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "demo":
		return ModeDemo, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown service mode %q", s)
	}
}

const (
	// Default values
	DefaultPort     = 3001
	DefaultLogLevel = "info"
	DefaultDataDir  = ".personaliz"
	DefaultBaseURL  = "http://localhost:3001"

	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"

	DefaultGreetingWindow  = 5 * time.Second
	DefaultClosingWindow   = 5 * time.Second
	DefaultCrossfadeOffset = 5 * time.Second
	DefaultMinOutputBytes  = 10000

	DefaultProbeTimeout   = 30 * time.Second
	DefaultExtractTimeout = 60 * time.Second
	DefaultSpliceTimeout  = 3 * time.Minute
	DefaultLipSyncTimeout = 5 * time.Minute

	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultElevenLabsVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultElevenLabsModel   = "eleven_monolingual_v1"
	DefaultElevenLabsMaxChar = 500

	DefaultTwilioFrom       = "whatsapp:+14155238886"
	DefaultWhatsAppProvider = "twilio"

	DefaultWorkers         = 2
	DefaultPollInterval    = 5 * time.Second
	DefaultCleanupSchedule = "@every 30m"
	DefaultScratchTTL      = 2 * time.Hour
	DefaultRateLimit       = 10
	DefaultS3URLExpiry     = 24 * time.Hour

	// Database filename
	DBFilename = "personaliz.db"

	// Environment variable names
	EnvPort     = "PERSONALIZ_PORT"
	EnvLogLevel = "PERSONALIZ_LOG_LEVEL"
	EnvDataDir  = "PERSONALIZ_DATA_DIR"
	EnvMode     = "PERSONALIZ_MODE"
	EnvBaseURL  = "PERSONALIZ_BASE_URL"
	EnvUploads  = "PERSONALIZ_UPLOAD_DIR"
	EnvBindAll  = "PERSONALIZ_BIND_ALL"

	EnvBaseVideo      = "PERSONALIZ_BASE_VIDEO"
	EnvFFmpeg         = "PERSONALIZ_FFMPEG"
	EnvFFprobe        = "PERSONALIZ_FFPROBE"
	EnvGreeting       = "PERSONALIZ_GREETING_WINDOW"
	EnvClosing        = "PERSONALIZ_CLOSING_WINDOW"
	EnvCrossfade      = "PERSONALIZ_CROSSFADE_OFFSET"
	EnvMinOutput      = "PERSONALIZ_MIN_OUTPUT_BYTES"
	EnvProbeTimeout   = "PERSONALIZ_PROBE_TIMEOUT"
	EnvExtractTimeout = "PERSONALIZ_EXTRACT_TIMEOUT"
	EnvSpliceTimeout  = "PERSONALIZ_SPLICE_TIMEOUT"
	EnvLipSyncTimeout = "PERSONALIZ_LIPSYNC_TIMEOUT"
	EnvOverlay        = "PERSONALIZ_OVERLAY"

	EnvElevenLabsKey     = "ELEVENLABS_API_KEY"
	EnvElevenLabsURL     = "ELEVENLABS_BASE_URL"
	EnvElevenLabsVoice   = "ELEVENLABS_VOICE_ID"
	EnvElevenLabsModel   = "ELEVENLABS_MODEL_ID"
	EnvElevenLabsMaxChar = "ELEVENLABS_MAX_CHARS"

	EnvWav2LipPython     = "WAV2LIP_PYTHON"
	EnvWav2LipScript     = "WAV2LIP_SCRIPT"
	EnvWav2LipCheckpoint = "WAV2LIP_CHECKPOINT"

	EnvWhatsAppProvider = "WHATSAPP_PROVIDER"
	EnvWhatsAppProfile  = "WHATSAPP_WEB_PROFILE_DIR"
	EnvTwilioSID        = "TWILIO_ACCOUNT_SID"
	EnvTwilioToken      = "TWILIO_AUTH_TOKEN"
	EnvTwilioFrom       = "TWILIO_WHATSAPP_NUMBER"

	EnvS3Bucket    = "S3_BUCKET"
	EnvS3Region    = "S3_REGION"
	EnvS3Endpoint  = "S3_ENDPOINT"
	EnvS3AccessKey = "S3_ACCESS_KEY_ID"
	EnvS3SecretKey = "S3_SECRET_ACCESS_KEY"
	EnvS3Expiry    = "S3_URL_EXPIRY"

	EnvWorkers         = "PERSONALIZ_WORKERS"
	EnvPollInterval    = "PERSONALIZ_POLL_INTERVAL"
	EnvCleanupSchedule = "PERSONALIZ_CLEANUP_SCHEDULE"
	EnvScratchTTL      = "PERSONALIZ_SCRATCH_TTL"
	EnvRateLimit       = "PERSONALIZ_RATE_LIMIT"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	BindAll() bool
	LogLevel() string
	Mode() ServiceMode
	DataDir() string
	DBPath() string
	UploadDir() string
	ScratchDir() string
	OutputDir() string
	BaseURL() string

	BaseVideoPath() string
	FFmpegPath() string
	FFprobePath() string
	GreetingWindow() time.Duration
	ClosingWindow() time.Duration
	CrossfadeOffset() time.Duration
	MinOutputBytes() int64
	ProbeTimeout() time.Duration
	ExtractTimeout() time.Duration
	SpliceTimeout() time.Duration
	LipSyncTimeout() time.Duration
	OverlayEnabled() bool

	ElevenLabs() ElevenLabsConfig
	Wav2Lip() Wav2LipConfig
	WhatsApp() WhatsAppConfig
	S3() S3Config

	Workers() int
	PollInterval() time.Duration
	CleanupSchedule() string
	ScratchTTL() time.Duration
	RateLimit() int
}

// ElevenLabsConfig holds the TTS provider settings.
type ElevenLabsConfig struct {
	APIKey   string
	BaseURL  string
	VoiceID  string
	ModelID  string
	MaxChars int
}

// Enabled reports whether an API key is present.
func (c ElevenLabsConfig) Enabled() bool { return c.APIKey != "" }

// Wav2LipConfig holds the lip-sync subprocess settings.
type Wav2LipConfig struct {
	Python     string
	Script     string
	Checkpoint string
}

// Enabled reports whether a script is configured.
func (c Wav2LipConfig) Enabled() bool { return c.Script != "" }

// WhatsAppConfig holds delivery settings for both WhatsApp providers.
type WhatsAppConfig struct {
	Provider   string // "twilio" or "web"
	AccountSID string
	AuthToken  string
	From       string
	ProfileDir string
}

// TwilioEnabled reports whether Twilio credentials are present.
func (c WhatsAppConfig) TwilioEnabled() bool {
	return c.AccountSID != "" && c.AuthToken != ""
}

// S3Config holds object storage settings. An empty bucket disables S3.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	URLExpiry time.Duration
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	bindAll  bool
	logLevel string
	mode     ServiceMode
	dataDir  string
	upload   string
	baseURL  string

	baseVideo       string
	ffmpeg          string
	ffprobe         string
	greeting        time.Duration
	closing         time.Duration
	crossfadeOffset time.Duration
	minOutputBytes  int64
	probeTimeout    time.Duration
	extractTimeout  time.Duration
	spliceTimeout   time.Duration
	lipSyncTimeout  time.Duration
	overlay         bool

	elevenLabs ElevenLabsConfig
	wav2lip    Wav2LipConfig
	whatsapp   WhatsAppConfig
	s3         S3Config

	workers         int
	pollInterval    time.Duration
	cleanupSchedule string
	scratchTTL      time.Duration
	rateLimit       int
}

// Load reads an optional .env file from the working directory and then
// builds the configuration from the environment.
func Load() (*EnvConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return New()
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		baseURL:         DefaultBaseURL,
		ffmpeg:          DefaultFFmpegPath,
		ffprobe:         DefaultFFprobePath,
		greeting:        DefaultGreetingWindow,
		closing:         DefaultClosingWindow,
		crossfadeOffset: DefaultCrossfadeOffset,
		minOutputBytes:  DefaultMinOutputBytes,
		probeTimeout:    DefaultProbeTimeout,
		extractTimeout:  DefaultExtractTimeout,
		spliceTimeout:   DefaultSpliceTimeout,
		lipSyncTimeout:  DefaultLipSyncTimeout,
		overlay:         true,
		elevenLabs: ElevenLabsConfig{
			BaseURL:  DefaultElevenLabsBaseURL,
			VoiceID:  DefaultElevenLabsVoiceID,
			ModelID:  DefaultElevenLabsModel,
			MaxChars: DefaultElevenLabsMaxChar,
		},
		whatsapp: WhatsAppConfig{
			Provider: DefaultWhatsAppProvider,
			From:     DefaultTwilioFrom,
		},
		s3:              S3Config{Region: "us-east-1", URLExpiry: DefaultS3URLExpiry},
		workers:         DefaultWorkers,
		pollInterval:    DefaultPollInterval,
		cleanupSchedule: DefaultCleanupSchedule,
		scratchTTL:      DefaultScratchTTL,
		rateLimit:       DefaultRateLimit,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	mode, err := ParseServiceMode(os.Getenv(EnvMode))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvMode, err)
	}
	cfg.mode = mode

	setString(&cfg.logLevel, EnvLogLevel)
	setString(&cfg.dataDir, EnvDataDir)
	setString(&cfg.upload, EnvUploads)
	setString(&cfg.baseURL, EnvBaseURL)
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")

	setString(&cfg.baseVideo, EnvBaseVideo)
	setString(&cfg.ffmpeg, EnvFFmpeg)
	setString(&cfg.ffprobe, EnvFFprobe)

	setString(&cfg.elevenLabs.APIKey, EnvElevenLabsKey)
	setString(&cfg.elevenLabs.BaseURL, EnvElevenLabsURL)
	setString(&cfg.elevenLabs.VoiceID, EnvElevenLabsVoice)
	setString(&cfg.elevenLabs.ModelID, EnvElevenLabsModel)

	setString(&cfg.wav2lip.Python, EnvWav2LipPython)
	setString(&cfg.wav2lip.Script, EnvWav2LipScript)
	setString(&cfg.wav2lip.Checkpoint, EnvWav2LipCheckpoint)

	setString(&cfg.whatsapp.Provider, EnvWhatsAppProvider)
	setString(&cfg.whatsapp.ProfileDir, EnvWhatsAppProfile)
	setString(&cfg.whatsapp.AccountSID, EnvTwilioSID)
	setString(&cfg.whatsapp.AuthToken, EnvTwilioToken)
	setString(&cfg.whatsapp.From, EnvTwilioFrom)
	switch cfg.whatsapp.Provider {
	case "twilio", "web":
	default:
		return nil, fmt.Errorf("invalid %s: must be twilio or web", EnvWhatsAppProvider)
	}

	setString(&cfg.s3.Bucket, EnvS3Bucket)
	setString(&cfg.s3.Region, EnvS3Region)
	setString(&cfg.s3.Endpoint, EnvS3Endpoint)
	setString(&cfg.s3.AccessKey, EnvS3AccessKey)
	setString(&cfg.s3.SecretKey, EnvS3SecretKey)
	setString(&cfg.cleanupSchedule, EnvCleanupSchedule)

	if v := os.Getenv(EnvBindAll); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvBindAll, err)
		}
		cfg.bindAll = b
	}
	if v := os.Getenv(EnvOverlay); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvOverlay, err)
		}
		cfg.overlay = b
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvGreeting, &cfg.greeting},
		{EnvClosing, &cfg.closing},
		{EnvCrossfade, &cfg.crossfadeOffset},
		{EnvProbeTimeout, &cfg.probeTimeout},
		{EnvExtractTimeout, &cfg.extractTimeout},
		{EnvSpliceTimeout, &cfg.spliceTimeout},
		{EnvLipSyncTimeout, &cfg.lipSyncTimeout},
		{EnvPollInterval, &cfg.pollInterval},
		{EnvScratchTTL, &cfg.scratchTTL},
		{EnvS3Expiry, &cfg.s3.URLExpiry},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.env); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvElevenLabsMaxChar, &cfg.elevenLabs.MaxChars},
		{EnvWorkers, &cfg.workers},
		{EnvRateLimit, &cfg.rateLimit},
	}
	for _, i := range ints {
		if err := setPositiveInt(i.dst, i.env); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv(EnvMinOutput); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative integer", EnvMinOutput)
		}
		cfg.minOutputBytes = n
	}

	return cfg, nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive", env)
	}
	*dst = d
	return nil
}

func setPositiveInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	if n < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", env)
	}
	*dst = n
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// BindAll reports whether the server listens on all interfaces instead of loopback.
func (c *EnvConfig) BindAll() bool {
	return c.bindAll
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// Mode returns the service mode injected into every collaborator.
func (c *EnvConfig) Mode() ServiceMode {
	return c.mode
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadDir returns the root under which all generated media lives.
func (c *EnvConfig) UploadDir() string {
	if c.upload != "" {
		return c.upload
	}
	return filepath.Join(c.dataDir, "uploads")
}

// ScratchDir returns the parent of per-request scratch directories.
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.UploadDir(), "tmp")
}

// OutputDir returns the directory finished videos are written to.
func (c *EnvConfig) OutputDir() string {
	return filepath.Join(c.UploadDir(), "videos")
}

func (c *EnvConfig) BaseURL() string {
	return c.baseURL
}

func (c *EnvConfig) BaseVideoPath() string {
	if c.baseVideo != "" {
		return c.baseVideo
	}
	return filepath.Join(c.UploadDir(), "templates", "base.mp4")
}

func (c *EnvConfig) FFmpegPath() string             { return c.ffmpeg }
func (c *EnvConfig) FFprobePath() string            { return c.ffprobe }
func (c *EnvConfig) GreetingWindow() time.Duration  { return c.greeting }
func (c *EnvConfig) ClosingWindow() time.Duration   { return c.closing }
func (c *EnvConfig) CrossfadeOffset() time.Duration { return c.crossfadeOffset }
func (c *EnvConfig) MinOutputBytes() int64          { return c.minOutputBytes }
func (c *EnvConfig) ProbeTimeout() time.Duration    { return c.probeTimeout }
func (c *EnvConfig) ExtractTimeout() time.Duration  { return c.extractTimeout }
func (c *EnvConfig) SpliceTimeout() time.Duration   { return c.spliceTimeout }
func (c *EnvConfig) LipSyncTimeout() time.Duration  { return c.lipSyncTimeout }
func (c *EnvConfig) OverlayEnabled() bool           { return c.overlay }

func (c *EnvConfig) ElevenLabs() ElevenLabsConfig { return c.elevenLabs }
func (c *EnvConfig) Wav2Lip() Wav2LipConfig       { return c.wav2lip }
func (c *EnvConfig) WhatsApp() WhatsAppConfig     { return c.whatsapp }
func (c *EnvConfig) S3() S3Config                 { return c.s3 }

func (c *EnvConfig) Workers() int                { return c.workers }
func (c *EnvConfig) PollInterval() time.Duration { return c.pollInterval }
func (c *EnvConfig) CleanupSchedule() string     { return c.cleanupSchedule }
func (c *EnvConfig) ScratchTTL() time.Duration   { return c.scratchTTL }
func (c *EnvConfig) RateLimit() int              { return c.rateLimit }

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
