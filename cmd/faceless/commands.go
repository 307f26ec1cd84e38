package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/config"
	"github.com/ivlev/faceless/internal/director"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/studio"
	"github.com/ivlev/faceless/internal/system"
	"github.com/ivlev/faceless/internal/video"
)

type command func(context.Context, *config.Config, *zap.Logger) error

func generateCmd(fs *flag.FlagSet, cfg *config.Config) command {
	topic := fs.String("topic", "", "What the video is about")
	fs.StringVar(&cfg.Voice, "voice", cfg.Voice, "Prebuilt narration voice")

	return func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
		if *topic == "" {
			return errors.New("-topic is required")
		}
		if err := cfg.RequireGemini(); err != nil {
			return err
		}

		client, err := newGemini(ctx, cfg, logger)
		if err != nil {
			return err
		}
		store, err := newStorage(ctx, cfg)
		if err != nil {
			return err
		}
		container, err := video.ParseContainer(cfg.Container)
		if err != nil {
			return err
		}

		s := studio.New(client, newAssemblerFactory(ctx, cfg, logger), store, studio.Options{
			ProjectRoot: cfg.ProjectDir,
			Voice:       cfg.Voice,
			Ext:         container.Ext(),
			Logger:      logger,
		})
		res, err := s.Generate(ctx, *topic)
		if err != nil {
			return err
		}

		reportDuration(ctx, logger, filepath.Join(cfg.OutputDir, res.ID+container.Ext()))
		fmt.Printf("[+++] Done! Video: %s\n      Project: %s\n", res.Location, res.Project)
		return nil
	}
}

func assembleCmd(fs *flag.FlagSet, cfg *config.Config) command {
	projectPath := fs.String("project", "", "Project manifest to assemble (default: the latest project)")
	input := fs.String("input", "", "PDF or image directory to assemble instead of a project")
	audioPath := fs.String("audio", "", "Narration WAV for -input (default: the latest file in input/audio/)")
	output := fs.String("output", "", "Output file name (generated in the output directory if empty)")
	fs.IntVar(&cfg.DPI, "dpi", cfg.DPI, "PDF rasterization DPI")

	return func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
		store, err := newStorage(ctx, cfg)
		if err != nil {
			return err
		}
		container, err := video.ParseContainer(cfg.Container)
		if err != nil {
			return err
		}
		newAssembler := newAssemblerFactory(ctx, cfg, logger)

		if *input == "" {
			manifest := *projectPath
			if manifest == "" {
				latest, err := director.FindLatestProject(cfg.ProjectDir)
				if err != nil {
					return fmt.Errorf("%w; pass -project or -input", err)
				}
				manifest = latest
				logger.Info("using latest project", zap.String("manifest", manifest))
			}

			s := studio.New(nil, newAssembler, store, studio.Options{
				ProjectRoot: cfg.ProjectDir,
				Ext:         container.Ext(),
				Logger:      logger,
			})
			res, err := s.Reassemble(ctx, manifest)
			if err != nil {
				return err
			}
			reportDuration(ctx, logger, filepath.Join(cfg.OutputDir, res.ID+container.Ext()))
			fmt.Printf("[+++] Done! Video: %s\n", res.Location)
			return nil
		}

		images, err := source.LoadImages(*input, cfg.DPI)
		if err != nil {
			return fmt.Errorf("load scene images: %w", err)
		}
		wavPath := *audioPath
		if wavPath == "" {
			if wavPath, err = system.FindLatest("input/audio", ".wav"); err != nil {
				return fmt.Errorf("%w; pass -audio", err)
			}
			logger.Info("using latest narration", zap.String("audio", wavPath))
		}
		narration, err := readNarration(wavPath)
		if err != nil {
			return err
		}

		blob, err := newAssembler(nil).Assemble(ctx, images, narration)
		if err != nil {
			return err
		}

		name := *output
		if name == "" {
			name = outputName(*input, time.Now(), container.Ext())
		}
		location, err := store.Save(ctx, name, blob.MIMEType, blob.Data)
		if err != nil {
			return fmt.Errorf("store video: %w", err)
		}
		reportDuration(ctx, logger, filepath.Join(cfg.OutputDir, name))
		fmt.Printf("[+++] Done! Video: %s\n", location)
		return nil
	}
}

func speakCmd(fs *flag.FlagSet, cfg *config.Config) command {
	text := fs.String("text", "", "Text to read aloud")
	output := fs.String("output", "narration.wav", "Output WAV file")
	fs.StringVar(&cfg.Voice, "voice", cfg.Voice, "Prebuilt narration voice")

	return func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
		if *text == "" {
			return errors.New("-text is required")
		}
		if err := cfg.RequireGemini(); err != nil {
			return err
		}
		client, err := newGemini(ctx, cfg, logger)
		if err != nil {
			return err
		}

		narration, err := client.GenerateSpeech(ctx, *text, cfg.Voice)
		if err != nil {
			return err
		}

		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		if err := audio.WriteWAV(f, narration); err != nil {
			_ = f.Close()
			return fmt.Errorf("write narration: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("[+++] Done! Narration: %s (%.2fs)\n", *output, narration.Duration())
		return nil
	}
}

func readNarration(path string) (*audio.Narration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open narration: %w", err)
	}
	defer f.Close()

	n, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("read narration %s: %w", path, err)
	}
	return n, nil
}

// outputName derives a file name from the input path, e.g.
// "My Deck.pdf" -> "My_Deck_2006-01-02_15-04-05.mp4".
func outputName(input string, now time.Time, ext string) string {
	base := filepath.Base(filepath.Clean(input))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	clean := strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%s_%s%s", clean, now.Format("2006-01-02_15-04-05"), ext)
}

// reportDuration logs the container duration ffprobe reads back from the
// stored file.
func reportDuration(ctx context.Context, logger *zap.Logger, path string) {
	d, err := video.ProbeDuration(ctx, path)
	if err != nil {
		logger.Debug("could not probe output duration", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("output duration", zap.String("path", path), zap.Float64("seconds", d))
}
