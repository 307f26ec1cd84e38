// Package gemini generates scripts, scene images and narration with the
// Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/director"
	"github.com/ivlev/faceless/internal/source"
)

const maxAttempts = 3

var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("gemini: API key is required")
	// ErrNoImage is returned when the image model returns nothing usable.
	ErrNoImage = errors.New("gemini: no image generated")
	// ErrNoAudio is returned when the speech model returns no audio part.
	ErrNoAudio = errors.New("gemini: no audio generated")
)

// modelsAPI is the part of *genai.Models this package uses.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Config selects the models used for each kind of output.
type Config struct {
	APIKey      string
	ScriptModel string
	ImageModel  string
	SpeechModel string
	// AspectRatio of generated images, e.g. "16:9" or "9:16".
	AspectRatio string
}

// Client wraps the genai client with retries and response parsing.
type Client struct {
	models  modelsAPI
	cfg     Config
	logger  *zap.Logger
	backoff time.Duration
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newClient(client.Models, cfg, logger), nil
}

func newClient(models modelsAPI, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{models: models, cfg: cfg, logger: logger, backoff: time.Second}
}

// retry calls fn up to maxAttempts times, waiting longer after each failure.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("Gemini request failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const scriptPrompt = `You write scripts for short faceless explainer videos.
Topic: %s

Split the video into 4 to 8 scenes. For every scene write one or two spoken
sentences of narration and a detailed prompt for a single still image that
illustrates it. No on-screen text in the images. Also suggest a YouTube title,
description and tags.`

// scriptSchema mirrors director.Script's JSON form.
var scriptSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title": {Type: genai.TypeString},
		"script": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"scene":         {Type: genai.TypeInteger},
					"narration":     {Type: genai.TypeString},
					"visual_prompt": {Type: genai.TypeString},
				},
				Required: []string{"scene", "narration", "visual_prompt"},
			},
		},
		"youtube_title":       {Type: genai.TypeString},
		"youtube_description": {Type: genai.TypeString},
		"youtube_tags":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"title", "script"},
}

// GenerateScript asks the script model for a scene breakdown of topic.
func (c *Client) GenerateScript(ctx context.Context, topic string) (*director.Script, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   scriptSchema,
	}

	var resp *genai.GenerateContentResponse
	err := c.retry(ctx, "generate script", func() error {
		var err error
		resp, err = c.models.GenerateContent(ctx, c.cfg.ScriptModel, genai.Text(fmt.Sprintf(scriptPrompt, topic)), config)
		return err
	})
	if err != nil {
		return nil, err
	}

	script, err := ParseScript(responseText(resp))
	if err != nil {
		return nil, err
	}
	c.logger.Info("script generated",
		zap.String("title", script.Title),
		zap.Int("scenes", len(script.Scenes)))
	return script, nil
}

// ParseScript decodes a JSON script, tolerating a surrounding Markdown code
// fence, and validates it.
func ParseScript(text string) (*director.Script, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var script director.Script
	if err := json.Unmarshal([]byte(text), &script); err != nil {
		return nil, fmt.Errorf("%w: %v", director.ErrMalformedScript, err)
	}
	for i := range script.Scenes {
		if script.Scenes[i].Number == 0 {
			script.Scenes[i].Number = i + 1
		}
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

const imageStyle = "Cinematic, high detail, soft natural light, no text, no watermark."

// GenerateImage renders one scene image for prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (source.SceneImage, error) {
	config := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    c.cfg.AspectRatio,
		OutputMIMEType: "image/png",
	}

	var resp *genai.GenerateImagesResponse
	err := c.retry(ctx, "generate image", func() error {
		var err error
		resp, err = c.models.GenerateImages(ctx, c.cfg.ImageModel, prompt+"\n"+imageStyle, config)
		if err != nil {
			return err
		}
		if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
			len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
			return ErrNoImage
		}
		return nil
	})
	if err != nil {
		return source.SceneImage{}, err
	}

	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = config.OutputMIMEType
	}
	return source.SceneImage{Bytes: img.ImageBytes, MIMEType: mime}, nil
}

// GenerateSpeech reads text aloud with the given prebuilt voice.
func (c *Client) GenerateSpeech(ctx context.Context, text, voice string) (*audio.Narration, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	var blob *genai.Blob
	err := c.retry(ctx, "generate speech", func() error {
		resp, err := c.models.GenerateContent(ctx, c.cfg.SpeechModel, genai.Text(text), config)
		if err != nil {
			return err
		}
		blob = inlineAudio(resp)
		if blob == nil {
			return ErrNoAudio
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	narration := audio.NewNarration(blob.Data, sampleRate(blob.MIMEType))
	if err := narration.Validate(); err != nil {
		return nil, fmt.Errorf("speech audio: %w", err)
	}
	c.logger.Info("speech generated",
		zap.String("voice", voice),
		zap.Float64("seconds", narration.Duration()))
	return narration, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
		break
	}
	return sb.String()
}

func inlineAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}

// sampleRate reads the rate parameter of an audio MIME type such as
// "audio/L16;codec=pcm;rate=24000".
func sampleRate(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.ToLower(k) != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return audio.DefaultSampleRate
}

// AspectRatio maps a canvas size to the closest ratio the image model
// supports.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "16:9"
	}
	r := float64(width) / float64(height)
	candidates := []struct {
		name  string
		ratio float64
	}{
		{"16:9", 16.0 / 9}, {"4:3", 4.0 / 3}, {"1:1", 1}, {"3:4", 3.0 / 4}, {"9:16", 9.0 / 16},
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if abs(r-c.ratio) < abs(r-best.ratio) {
			best = c
		}
	}
	return best.name
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
