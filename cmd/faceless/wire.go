package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ivlev/faceless/internal/config"
	"github.com/ivlev/faceless/internal/effects"
	"github.com/ivlev/faceless/internal/engine"
	"github.com/ivlev/faceless/internal/gemini"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/storage"
	"github.com/ivlev/faceless/internal/studio"
	"github.com/ivlev/faceless/internal/system"
	"github.com/ivlev/faceless/internal/video"
)

func newGemini(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gemini.Client, error) {
	return gemini.NewClient(ctx, gemini.Config{
		APIKey:      cfg.GeminiAPIKey,
		ScriptModel: cfg.ScriptModel,
		ImageModel:  cfg.ImageModel,
		SpeechModel: cfg.SpeechModel,
		AspectRatio: gemini.AspectRatio(cfg.Width, cfg.Height),
	}, logger)
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if !cfg.S3Enabled() {
		local, err := storage.NewLocalStorage(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	s3, err := storage.NewS3Storage(ctx, cfg.OutputDir, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Prefix:          cfg.S3Prefix,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}

// newAssemblerFactory builds one engine.Assembler per run from the
// configuration. Config has been validated, so parse errors fall back to
// the defaults.
func newAssemblerFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) studio.AssemblerFactory {
	container, _ := video.ParseContainer(cfg.Container)
	easing, _ := effects.ParseEasing(cfg.Easing)
	fit, _ := effects.ParseFit(cfg.Fit)

	workers := cfg.Workers
	if workers <= 0 {
		workers = system.Host(ctx).DecodeWorkers(uint64(cfg.Width) * uint64(cfg.Height) * 4)
	}

	return func(weights []float64) studio.Assembler {
		enc := video.NewFFmpegEncoder(container, logger)
		enc.FFmpegPath = cfg.FFmpegPath
		enc.VideoCodec = cfg.VideoCodec
		enc.Quality = cfg.Quality

		decoder := source.NewDecoder(workers)
		decoder.DPI = cfg.DPI

		opts := []engine.Option{
			engine.WithLogger(logger),
			engine.WithFPS(cfg.FPS),
			engine.WithCanvasSize(cfg.Width, cfg.Height),
			engine.WithAnimator(effects.KenBurns{Intensity: cfg.ZoomIntensity, Easing: easing, Fit: fit}),
			engine.WithTimeline(timelinePolicy(cfg.Timeline, weights)),
			engine.WithDecoder(decoder),
			engine.WithWatchdog(cfg.StallFactor, cfg.StallGrace),
		}
		if !cfg.Realtime {
			opts = append(opts, engine.WithClock(engine.NewVirtualClock))
		}
		return engine.NewAssembler(enc, opts...)
	}
}

func timelinePolicy(name string, weights []float64) engine.TimelinePolicy {
	switch name {
	case "weighted":
		return engine.WeightedPolicy(weights)
	case "varied":
		return engine.VariedPolicy(time.Now().UnixNano())
	default:
		return nil
	}
}
