package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ivlev/faceless/internal/config"
	"github.com/ivlev/faceless/internal/system"
)

const usage = `faceless turns a topic into a narrated video.

Usage:
  faceless generate -topic "..." [-voice Kore] [flags]
  faceless assemble [-project path/to/project.yaml | -input dir|file.pdf -audio narration.wav] [flags]
  faceless speak -text "..." [-output narration.wav] [-voice Kore]

Run "faceless <command> -h" for the flags of a command.
`

func main() {
	// .env is optional
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "[-] %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, name string, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	var cmd command
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	switch name {
	case "generate":
		cmd = generateCmd(fs, cfg)
	case "assemble":
		cmd = assembleCmd(fs, cfg)
	case "speak":
		cmd = speakCmd(fs, cfg)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}

	applyVideoFlags := bindVideoFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := applyVideoFlags(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	system.InitResourceLimits(logger)
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	return cmd(ctx, cfg, logger)
}

// bindVideoFlags registers the flags shared by all commands. The returned
// func applies the preset once flags are parsed; explicit -width/-height
// still win over it.
func bindVideoFlags(fs *flag.FlagSet, cfg *config.Config) func() error {
	preset := fs.String("preset", "", "Format preset: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	width := fs.Int("width", cfg.Width, "Video width")
	height := fs.Int("height", cfg.Height, "Video height")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "Frames per second")
	fs.Float64Var(&cfg.ZoomIntensity, "zoom", cfg.ZoomIntensity, "Ken Burns zoom over one scene (0.1 = 10%)")
	fs.StringVar(&cfg.Easing, "easing", cfg.Easing, "Zoom easing: linear, ease-in-out")
	fs.StringVar(&cfg.Fit, "fit", cfg.Fit, "Image base size: native, contain, cover")
	fs.StringVar(&cfg.Timeline, "timeline", cfg.Timeline, "Scene lengths: even, weighted, varied")
	fs.StringVar(&cfg.Container, "container", cfg.Container, "Output container: mp4, webm")
	fs.IntVar(&cfg.Quality, "quality", cfg.Quality, "Video quality (0 - auto, x264: CRF 1-51, VideoToolbox: bitrate = Q*100kbit/s)")
	fs.BoolVar(&cfg.Realtime, "realtime", cfg.Realtime, "Pace rendering by the wall clock instead of as fast as possible")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Image decode workers (0 - size by CPU and memory)")

	return func() error {
		if err := cfg.ApplyPreset(*preset); err != nil {
			return err
		}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "width":
				cfg.Width = *width
			case "height":
				cfg.Height = *height
			}
		})
		return nil
	}
}
