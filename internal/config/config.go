// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// ErrGeminiAPIKeyRequired is returned when GEMINI_API_KEY is needed but not set.
	ErrGeminiAPIKeyRequired = errors.New("config: GEMINI_API_KEY is required")
	// ErrUnknownPreset is returned for aspect presets other than 16:9, 9:16 and 4:5.
	ErrUnknownPreset = errors.New("config: unknown preset")
)

// Config holds all configuration for the application.
type Config struct {
	// Gemini settings
	GeminiAPIKey string `env:"GEMINI_API_KEY" json:"-"` // Masked in JSON
	ScriptModel  string `env:"GEMINI_SCRIPT_MODEL, default=gemini-2.5-flash" json:"script_model" validate:"required"`
	ImageModel   string `env:"GEMINI_IMAGE_MODEL, default=imagen-4.0-generate-001" json:"image_model" validate:"required"`
	SpeechModel  string `env:"GEMINI_TTS_MODEL, default=gemini-2.5-flash-preview-tts" json:"speech_model" validate:"required"`
	Voice        string `env:"VOICE, default=Kore" json:"voice" validate:"required"`

	// Video settings
	Width         int     `env:"VIDEO_WIDTH, default=1280" json:"width" validate:"gt=0,even"`
	Height        int     `env:"VIDEO_HEIGHT, default=720" json:"height" validate:"gt=0,even"`
	FPS           int     `env:"VIDEO_FPS, default=30" json:"fps" validate:"gte=1,lte=60"`
	ZoomIntensity float64 `env:"ZOOM_INTENSITY, default=0.1" json:"zoom_intensity" validate:"gt=0,lte=1"`
	Easing        string  `env:"ZOOM_EASING, default=linear" json:"easing" validate:"oneof=linear ease-in-out"`
	Fit           string  `env:"IMAGE_FIT, default=native" json:"fit" validate:"oneof=native contain cover"`
	Timeline      string  `env:"TIMELINE, default=even" json:"timeline" validate:"oneof=even weighted varied"`
	Container     string  `env:"CONTAINER, default=mp4" json:"container" validate:"oneof=mp4 webm"`
	VideoCodec    string  `env:"VIDEO_CODEC" json:"video_codec,omitempty"`
	Quality       int     `env:"VIDEO_QUALITY, default=0" json:"quality" validate:"gte=0"`
	Realtime      bool    `env:"REALTIME, default=false" json:"realtime"`
	FFmpegPath    string  `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`

	// Processing settings
	Workers     int           `env:"WORKERS, default=0" json:"workers" validate:"gte=0"` // 0 sizes by host
	DPI         int           `env:"PDF_DPI, default=150" json:"dpi" validate:"gte=36,lte=600"`
	StallFactor float64       `env:"STALL_FACTOR, default=4" json:"stall_factor" validate:"gte=1"`
	StallGrace  time.Duration `env:"STALL_GRACE, default=30s" json:"stall_grace" validate:"gte=0"`

	// Storage settings
	OutputDir  string `env:"OUTPUT_DIR, default=output" json:"output_dir" validate:"required"`
	ProjectDir string `env:"PROJECT_DIR, default=projects" json:"project_dir" validate:"required"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=videos/" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=console" json:"log_format" validate:"oneof=console json"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level" validate:"oneof=debug info warn error"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	})
	return v
}

// Validate checks ranges and enumerations of every field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RequireGemini checks that the generative features can be used.
func (c *Config) RequireGemini() error {
	if c.GeminiAPIKey == "" {
		return ErrGeminiAPIKeyRequired
	}
	return nil
}

// ApplyPreset sets the canvas size for an aspect preset: 16:9, 9:16
// (Shorts/TikTok) or 4:5 (Instagram). An empty preset is a no-op.
func (c *Config) ApplyPreset(preset string) error {
	switch preset {
	case "":
	case "16:9":
		c.Width, c.Height = 1280, 720
	case "9:16":
		c.Width, c.Height = 720, 1280
	case "4:5":
		c.Width, c.Height = 1080, 1350
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable console logs.
func (c *Config) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if strings.ToLower(c.LogFormat) == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(parseLogLevel(c.LogLevel))
	return zc.Build()
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{GeminiAPIKey: %s, Size: %dx%d, FPS: %d, Zoom: %.2f/%s, Fit: %s, Timeline: %s, Container: %s, Realtime: %t, Workers: %d, OutputDir: %s, S3Bucket: %s, S3Region: %s, AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		mask(c.GeminiAPIKey),
		c.Width, c.Height,
		c.FPS,
		c.ZoomIntensity, c.Easing,
		c.Fit,
		c.Timeline,
		c.Container,
		c.Realtime,
		c.Workers,
		c.OutputDir,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to a zap level.
func parseLogLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}
