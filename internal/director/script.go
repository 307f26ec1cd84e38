package director

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedScript is returned when a generated script cannot be used.
var ErrMalformedScript = errors.New("malformed script")

// Script is the scene breakdown of one video.
type Script struct {
	Title              string   `json:"title" yaml:"title" validate:"required"`
	Scenes             []Scene  `json:"script" yaml:"scenes" validate:"required,min=1,dive"`
	YouTubeTitle       string   `json:"youtube_title,omitempty" yaml:"youtube_title,omitempty"`
	YouTubeDescription string   `json:"youtube_description,omitempty" yaml:"youtube_description,omitempty"`
	YouTubeTags        []string `json:"youtube_tags,omitempty" yaml:"youtube_tags,omitempty"`
}

// Scene is one still image and the narration spoken over it.
type Scene struct {
	Number       int    `json:"scene" yaml:"scene" validate:"gte=1"`
	Narration    string `json:"narration" yaml:"narration" validate:"required"`
	VisualPrompt string `json:"visual_prompt" yaml:"visual_prompt" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the script has a title and at least one complete scene.
func (s *Script) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: empty", ErrMalformedScript)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}
	return nil
}

// Narration joins the narration of all scenes into one text for speech
// synthesis.
func (s *Script) Narration() string {
	parts := make([]string, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		parts = append(parts, strings.TrimSpace(sc.Narration))
	}
	return strings.Join(parts, "\n\n")
}

// Weights returns the narration length of every scene in characters, for a
// timeline that gives longer narration more screen time.
func (s *Script) Weights() []float64 {
	weights := make([]float64, len(s.Scenes))
	for i, sc := range s.Scenes {
		weights[i] = float64(utf8.RuneCountInString(strings.TrimSpace(sc.Narration)))
	}
	return weights
}
