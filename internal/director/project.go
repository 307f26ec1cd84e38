package director

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/source"
)

// Version is written to every project manifest.
const Version = "1.0"

// ErrIncompleteProject is returned when a manifest lacks images or narration.
var ErrIncompleteProject = errors.New("project has no images or narration")

// Project records everything needed to assemble a video again: the script,
// the scene image files and the narration file. Paths are relative to the
// manifest's directory.
type Project struct {
	Version   string       `yaml:"version"`
	ID        string       `yaml:"id"`
	Topic     string       `yaml:"topic,omitempty"`
	CreatedAt time.Time    `yaml:"created_at"`
	Script    *Script      `yaml:"script,omitempty"`
	Images    []SceneImage `yaml:"images"`
	Narration string       `yaml:"narration"`
	Video     string       `yaml:"video,omitempty"`
}

// SceneImage points at one scene image file.
type SceneImage struct {
	Path     string `yaml:"path"`
	MIMEType string `yaml:"mime_type,omitempty"`
}

// WriteProject writes a project to a YAML file
func WriteProject(project *Project, path string) error {
	if project.Version == "" {
		project.Version = Version
	}
	data, err := yaml.Marshal(project)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadProject reads a project from a YAML file
func ReadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", path, err)
	}
	return &project, nil
}

// Load reads the scene images and narration a manifest at dir refers to.
func (p *Project) Load(dir string) ([]source.SceneImage, *audio.Narration, error) {
	if len(p.Images) == 0 || p.Narration == "" {
		return nil, nil, ErrIncompleteProject
	}

	images := make([]source.SceneImage, 0, len(p.Images))
	for _, img := range p.Images {
		data, err := os.ReadFile(resolve(dir, img.Path))
		if err != nil {
			return nil, nil, fmt.Errorf("read scene image: %w", err)
		}
		images = append(images, source.SceneImage{Bytes: data, MIMEType: img.MIMEType})
	}

	f, err := os.Open(resolve(dir, p.Narration))
	if err != nil {
		return nil, nil, fmt.Errorf("open narration: %w", err)
	}
	defer f.Close()

	narration, err := audio.ReadWAV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read narration: %w", err)
	}
	return images, narration, nil
}

// Weights returns per-scene timeline weights when the script matches the
// image list, nil otherwise.
func (p *Project) Weights() []float64 {
	if p.Script == nil || len(p.Script.Scenes) != len(p.Images) {
		return nil
	}
	return p.Script.Weights()
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
