// Package studio turns a topic into a finished video: script, scene images
// and narration from a Generator, assembly, then storage.
package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/director"
	"github.com/ivlev/faceless/internal/engine"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/storage"
)

const narrationFile = "narration.wav"

// ErrEmptyTopic is returned when Generate is called without a topic.
var ErrEmptyTopic = errors.New("topic is required")

// Generator produces the raw material of a video.
type Generator interface {
	GenerateScript(ctx context.Context, topic string) (*director.Script, error)
	GenerateImage(ctx context.Context, prompt string) (source.SceneImage, error)
	GenerateSpeech(ctx context.Context, text, voice string) (*audio.Narration, error)
}

// Assembler turns scene images and narration into a video.
type Assembler interface {
	Assemble(ctx context.Context, images []source.SceneImage, narration *audio.Narration) (*engine.Blob, error)
}

// AssemblerFactory builds an Assembler for one run. weights holds the
// per-scene narration lengths and is nil when they are unknown.
type AssemblerFactory func(weights []float64) Assembler

// Options configures a Studio.
type Options struct {
	ProjectRoot string
	Voice       string
	// ImageWorkers bounds concurrent image requests; 0 means 4.
	ImageWorkers int
	// Ext is the file extension of stored videos, e.g. ".mp4".
	Ext    string
	Logger *zap.Logger
}

// Studio runs the whole pipeline.
type Studio struct {
	gen          Generator
	newAssembler AssemblerFactory
	store        storage.Storage
	opts         Options
	logger       *zap.Logger
}

// Result describes one finished video.
type Result struct {
	ID       string
	Project  string // manifest path
	Location string // storage path or URL
	Duration float64
	Frames   int
}

// New creates a Studio.
func New(gen Generator, newAssembler AssemblerFactory, store storage.Storage, opts Options) *Studio {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ImageWorkers <= 0 {
		opts.ImageWorkers = 4
	}
	if opts.ProjectRoot == "" {
		opts.ProjectRoot = "projects"
	}
	if opts.Ext == "" {
		opts.Ext = ".mp4"
	}
	return &Studio{
		gen:          gen,
		newAssembler: newAssembler,
		store:        store,
		opts:         opts,
		logger:       opts.Logger,
	}
}

// Generate writes a script for topic, renders its images and narration,
// records them as a project and assembles the video.
func (s *Studio) Generate(ctx context.Context, topic string) (*Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	id := uuid.NewString()
	logger := s.logger.With(zap.String("project_id", id))
	start := time.Now()

	logger.Info("generating script", zap.String("topic", topic))
	script, err := s.gen.GenerateScript(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("generate script: %w", err)
	}

	images, narration, err := s.generateMedia(ctx, script, logger)
	if err != nil {
		return nil, err
	}

	dir := director.GenerateProjectDir(s.opts.ProjectRoot, id)
	project, err := writeProjectFiles(dir, id, topic, script, images, narration)
	if err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	manifest := filepath.Join(dir, director.ManifestName)
	logger.Info("project saved",
		zap.String("manifest", manifest),
		zap.Duration("elapsed", time.Since(start)))

	res, err := s.assemble(ctx, project, manifest, images, narration, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("video ready",
		zap.String("location", res.Location),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// Reassemble builds the video of an existing project manifest again.
func (s *Studio) Reassemble(ctx context.Context, manifest string) (*Result, error) {
	project, err := director.ReadProject(manifest)
	if err != nil {
		return nil, err
	}
	images, narration, err := project.Load(filepath.Dir(manifest))
	if err != nil {
		return nil, err
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	logger := s.logger.With(zap.String("project_id", project.ID))
	return s.assemble(ctx, project, manifest, images, narration, logger)
}

// generateMedia requests all scene images and the narration concurrently.
func (s *Studio) generateMedia(ctx context.Context, script *director.Script, logger *zap.Logger) ([]source.SceneImage, *audio.Narration, error) {
	images := make([]source.SceneImage, len(script.Scenes))
	var narration *audio.Narration

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ImageWorkers + 1)

	g.Go(func() error {
		n, err := s.gen.GenerateSpeech(gctx, script.Narration(), s.opts.Voice)
		if err != nil {
			return fmt.Errorf("generate narration: %w", err)
		}
		narration = n
		logger.Info("narration generated", zap.Float64("seconds", n.Duration()))
		return nil
	})

	for i, scene := range script.Scenes {
		g.Go(func() error {
			img, err := s.gen.GenerateImage(gctx, scene.VisualPrompt)
			if err != nil {
				return fmt.Errorf("generate image for scene %d: %w", scene.Number, err)
			}
			images[i] = img
			logger.Debug("scene image generated", zap.Int("scene", scene.Number))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return images, narration, nil
}

func (s *Studio) assemble(ctx context.Context, project *director.Project, manifest string, images []source.SceneImage, narration *audio.Narration, logger *zap.Logger) (*Result, error) {
	blob, err := s.newAssembler(project.Weights()).Assemble(ctx, images, narration)
	if err != nil {
		return nil, fmt.Errorf("assemble video: %w", err)
	}

	location, err := s.store.Save(ctx, project.ID+s.opts.Ext, blob.MIMEType, blob.Data)
	if err != nil {
		return nil, fmt.Errorf("store video: %w", err)
	}

	project.Video = location
	if err := director.WriteProject(project, manifest); err != nil {
		logger.Warn("failed to record video location", zap.Error(err))
	}

	return &Result{
		ID:       project.ID,
		Project:  manifest,
		Location: location,
		Duration: blob.Duration,
		Frames:   blob.Frames,
	}, nil
}

// writeProjectFiles stores scene images, narration and the manifest in dir.
func writeProjectFiles(dir, id, topic string, script *director.Script, images []source.SceneImage, narration *audio.Narration) (*director.Project, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	project := &director.Project{
		ID:        id,
		Topic:     topic,
		CreatedAt: time.Now().UTC(),
		Script:    script,
		Narration: narrationFile,
	}

	for i, img := range images {
		mime := img.MIMEType
		if mime == "" {
			mime = mimetype.Detect(img.Bytes).String()
		}
		name := fmt.Sprintf("scene_%02d%s", i+1, extFor(mime))
		if err := os.WriteFile(filepath.Join(dir, name), img.Bytes, 0o644); err != nil {
			return nil, err
		}
		project.Images = append(project.Images, director.SceneImage{Path: name, MIMEType: mime})
	}

	var wav bytes.Buffer
	if err := audio.WriteWAV(&wav, narration); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, narrationFile), wav.Bytes(), 0o644); err != nil {
		return nil, err
	}

	if err := director.WriteProject(project, filepath.Join(dir, director.ManifestName)); err != nil {
		return nil, err
	}
	return project, nil
}

func extFor(mime string) string {
	if m := mimetype.Lookup(mime); m != nil {
		return m.Extension()
	}
	return ".img"
}
