package studio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/director"
	"github.com/ivlev/faceless/internal/engine"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/storage"
)

type fakeGenerator struct {
	mu       sync.Mutex
	script   *director.Script
	prompts  []string
	voice    string
	speech   string
	imageErr error
}

func (g *fakeGenerator) GenerateScript(_ context.Context, topic string) (*director.Script, error) {
	if g.script == nil {
		return nil, director.ErrMalformedScript
	}
	return g.script, nil
}

func (g *fakeGenerator) GenerateImage(_ context.Context, prompt string) (source.SceneImage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.imageErr != nil {
		return source.SceneImage{}, g.imageErr
	}
	return source.SceneImage{Bytes: []byte("png:" + prompt), MIMEType: "image/png"}, nil
}

func (g *fakeGenerator) GenerateSpeech(_ context.Context, text, voice string) (*audio.Narration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speech, g.voice = text, voice
	return audio.NewNarration(make([]byte, 48000), 24000), nil
}

type fakeAssembler struct {
	weights   []float64
	images    []source.SceneImage
	narration *audio.Narration
	err       error
}

func (a *fakeAssembler) Assemble(_ context.Context, images []source.SceneImage, narration *audio.Narration) (*engine.Blob, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.images, a.narration = images, narration
	return &engine.Blob{Data: []byte("video"), MIMEType: "video/mp4", Duration: narration.Duration(), Frames: 30}, nil
}

func testScript() *director.Script {
	return &director.Script{
		Title: "Bees",
		Scenes: []director.Scene{
			{Number: 1, Narration: "Bees dance.", VisualPrompt: "a bee on a flower"},
			{Number: 2, Narration: "They share where food is.", VisualPrompt: "a hive"},
			{Number: 3, Narration: "Clever.", VisualPrompt: "a honeycomb"},
		},
	}
}

func newTestStudio(t *testing.T, gen Generator, asm *fakeAssembler) (*Studio, string) {
	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "output"))
	require.NoError(t, err)

	factory := func(weights []float64) Assembler {
		asm.weights = weights
		return asm
	}
	return New(gen, factory, store, Options{
		ProjectRoot: filepath.Join(root, "projects"),
		Voice:       "Puck",
		Logger:      zaptest.NewLogger(t),
	}), root
}

func TestGenerate(t *testing.T) {
	gen := &fakeGenerator{script: testScript()}
	asm := &fakeAssembler{}
	s, root := newTestStudio(t, gen, asm)

	res, err := s.Generate(context.Background(), "  honey bees ")
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, filepath.Join(root, "output", res.ID+".mp4"), res.Location)
	assert.InDelta(t, 1.0, res.Duration, 1e-9)
	assert.Equal(t, 30, res.Frames)

	content, err := os.ReadFile(res.Location)
	require.NoError(t, err)
	assert.Equal(t, "video", string(content))

	assert.Equal(t, "Puck", gen.voice)
	assert.Equal(t, "Bees dance.\n\nThey share where food is.\n\nClever.", gen.speech)
	assert.ElementsMatch(t, []string{"a bee on a flower", "a hive", "a honeycomb"}, gen.prompts)

	require.Len(t, asm.images, 3)
	for i, prompt := range []string{"a bee on a flower", "a hive", "a honeycomb"} {
		assert.Equal(t, "png:"+prompt, string(asm.images[i].Bytes), "scene order is kept")
	}
	assert.Equal(t, []float64{11, 25, 7}, asm.weights)
}

func TestGenerate_WritesReloadableProject(t *testing.T) {
	gen := &fakeGenerator{script: testScript()}
	asm := &fakeAssembler{}
	s, _ := newTestStudio(t, gen, asm)

	res, err := s.Generate(context.Background(), "bees")
	require.NoError(t, err)

	project, err := director.ReadProject(res.Project)
	require.NoError(t, err)
	assert.Equal(t, res.ID, project.ID)
	assert.Equal(t, "bees", project.Topic)
	assert.Equal(t, res.Location, project.Video)
	require.Len(t, project.Images, 3)
	assert.Equal(t, "scene_01.png", project.Images[0].Path)

	images, narration, err := project.Load(filepath.Dir(res.Project))
	require.NoError(t, err)
	assert.Equal(t, asm.images, images)
	assert.Equal(t, asm.narration.PCM, narration.PCM)
	assert.Equal(t, 24000, narration.SampleRate)
}

func TestReassemble(t *testing.T) {
	gen := &fakeGenerator{script: testScript()}
	asm := &fakeAssembler{}
	s, _ := newTestStudio(t, gen, asm)

	first, err := s.Generate(context.Background(), "bees")
	require.NoError(t, err)

	asm.images, asm.weights = nil, nil
	second, err := s.Reassemble(context.Background(), first.Project)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Location, second.Location)
	assert.Len(t, asm.images, 3)
	assert.Equal(t, []float64{11, 25, 7}, asm.weights)
}

func TestGenerate_EmptyTopic(t *testing.T) {
	s, _ := newTestStudio(t, &fakeGenerator{}, &fakeAssembler{})
	_, err := s.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestGenerate_ScriptFailure(t *testing.T) {
	s, _ := newTestStudio(t, &fakeGenerator{}, &fakeAssembler{})
	_, err := s.Generate(context.Background(), "bees")
	assert.ErrorIs(t, err, director.ErrMalformedScript)
}

func TestGenerate_ImageFailureAbortsBeforeAssembly(t *testing.T) {
	boom := errors.New("quota exceeded")
	gen := &fakeGenerator{script: testScript(), imageErr: boom}
	asm := &fakeAssembler{}
	s, root := newTestStudio(t, gen, asm)

	_, err := s.Generate(context.Background(), "bees")
	require.ErrorIs(t, err, boom)
	assert.Nil(t, asm.images)

	_, statErr := os.Stat(filepath.Join(root, "projects"))
	assert.True(t, os.IsNotExist(statErr), "no project is written")
}

func TestGenerate_AssemblyFailure(t *testing.T) {
	boom := errors.New("encoder died")
	s, root := newTestStudio(t, &fakeGenerator{script: testScript()}, &fakeAssembler{err: boom})

	_, err := s.Generate(context.Background(), "bees")
	require.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(filepath.Join(root, "output"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial video is stored")
}

func TestExtFor(t *testing.T) {
	assert.Equal(t, ".png", extFor("image/png"))
	assert.Equal(t, ".jpg", extFor("image/jpeg"))
	assert.Equal(t, ".img", extFor("application/x-nothing"))
}
