package engine

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/system"
	"github.com/ivlev/faceless/internal/video"
)

// fakeEncoder records what a run streams into it. Each captured frame is
// emitted as one chunk holding the frame's CRC and centre pixel.
type fakeEncoder struct {
	mu          sync.Mutex
	opened      int
	openErr     error
	failAfter   int // emit EventFailed after this many frames; 0 disables
	stopEarly   bool
	lastSpec    video.StreamSpec
	lastSession *fakeSession
}

func (e *fakeEncoder) Open(_ context.Context, spec video.StreamSpec) (video.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.opened++
	e.lastSpec = spec
	s := &fakeSession{
		enc:    e,
		events: make(chan video.Event, 4096),
	}
	e.lastSession = s
	return s, nil
}

func (e *fakeEncoder) MIMEType() string { return "video/mp4" }

func (e *fakeEncoder) session() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSession
}

type fakeSession struct {
	enc         *fakeEncoder
	events      chan video.Event
	frames      int
	centres     []color.RGBA
	audio       bytes.Buffer
	audioClosed bool
	stopped     bool
	ended       bool
}

func (s *fakeSession) WriteFrame(img *image.RGBA) error {
	defer system.PutImage(img)
	if s.ended {
		// Like a pipe buffer: accepted, never encoded.
		return nil
	}
	s.frames++
	c := img.RGBAAt(img.Rect.Dx()/2, img.Rect.Dy()/2)
	s.centres = append(s.centres, c)

	chunk := make([]byte, 0, 8)
	sum := crc32.ChecksumIEEE(img.Pix)
	chunk = append(chunk, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum), c.R, c.G, c.B, c.A)
	s.events <- video.Event{Kind: video.EventData, Chunk: chunk}

	if s.enc.failAfter > 0 && s.frames == s.enc.failAfter {
		s.end(video.Event{Kind: video.EventFailed, Err: &video.FFmpegError{Stderr: "broken pipe", Err: errors.New("exit status 1")}})
	}
	if s.enc.stopEarly && s.frames == 2 {
		s.end(video.Event{Kind: video.EventStopped})
	}
	return nil
}

func (s *fakeSession) Audio() io.WriteCloser { return (*fakeAudio)(s) }

func (s *fakeSession) Stop() error {
	s.stopped = true
	s.end(video.Event{Kind: video.EventStopped})
	return nil
}

func (s *fakeSession) Events() <-chan video.Event { return s.events }

func (s *fakeSession) end(e video.Event) {
	if s.ended {
		return
	}
	s.ended = true
	s.events <- e
	close(s.events)
}

type fakeAudio fakeSession

func (a *fakeAudio) Write(p []byte) (int, error) { return a.audio.Write(p) }

func (a *fakeAudio) Close() error {
	a.audioClosed = true
	return nil
}

// scriptedClock delivers a fixed list of elapsed times, then blocks.
type scriptedClock struct {
	times []float64
	stop  chan struct{}
	once  sync.Once
}

func scripted(times ...float64) ClockFactory {
	return func(int) FrameClock {
		return &scriptedClock{times: times, stop: make(chan struct{})}
	}
}

func (c *scriptedClock) Start(ctx context.Context) <-chan float64 {
	ticks := make(chan float64)
	go func() {
		for _, t := range c.times {
			select {
			case ticks <- t:
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ticks
}

func (c *scriptedClock) Stop() { c.once.Do(func() { close(c.stop) }) }

func pngImage(t *testing.T, c color.RGBA) source.SceneImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return source.SceneImage{Bytes: buf.Bytes(), MIMEType: "image/png"}
}

func pcmRamp(frames int) []byte {
	pcm := make([]byte, frames*2)
	for i := range pcm {
		pcm[i] = byte(i * 13)
	}
	return pcm
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

func newTestAssembler(t *testing.T, enc video.Encoder, opts ...Option) *Assembler {
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithFPS(4),
		WithCanvasSize(16, 16),
		WithClock(NewVirtualClock),
	}
	return NewAssembler(enc, append(base, opts...)...)
}

func states(h []Transition) []State {
	out := []State{}
	if len(h) > 0 {
		out = append(out, h[0].From)
	}
	for _, tr := range h {
		out = append(out, tr.To)
	}
	return out
}

func TestAssemble_ThreeScenesFollowTimeline(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc)
	narration := audio.NewNarration(pcmRamp(3000), 1000) // 3 seconds

	blob, err := a.Assemble(context.Background(),
		[]source.SceneImage{pngImage(t, red), pngImage(t, green), pngImage(t, blue)}, narration)
	require.NoError(t, err)

	assert.Equal(t, "video/mp4", blob.MIMEType)
	assert.Equal(t, 12, blob.Frames)
	assert.InDelta(t, 3.0, blob.Duration, 1e-9)
	assert.NotEmpty(t, blob.RunID)

	s := enc.session()
	require.Len(t, s.centres, 12)
	for i, c := range s.centres {
		want := []color.RGBA{red, green, blue}[i/4]
		assert.Equal(t, want, c, "frame %d", i)
	}
	assert.Equal(t, video.StreamSpec{Width: 16, Height: 16, FPS: 4, SampleRate: 1000, Channels: 1}, enc.lastSpec)
}

func TestAssemble_SingleSceneDurationMatchesNarration(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc, WithFPS(10))
	narration := audio.NewNarration(pcmRamp(2500), 1000) // 2.5 seconds

	blob, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, narration)
	require.NoError(t, err)

	assert.Equal(t, 25, blob.Frames)
	assert.InDelta(t, narration.Duration(), float64(blob.Frames)/10, 0.1)
	assert.Len(t, blob.Data, 25*8)
}

func TestAssemble_NarrationReachesEncoderUnchanged(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc)
	pcm := pcmRamp(1500)

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red), pngImage(t, blue)}, audio.NewNarration(pcm, 1000))
	require.NoError(t, err)

	s := enc.session()
	assert.Equal(t, pcm, s.audio.Bytes())
	assert.True(t, s.audioClosed)
	assert.True(t, s.stopped)
}

func TestAssemble_TransitionHistory(t *testing.T) {
	a := newTestAssembler(t, &fakeEncoder{})
	assert.Equal(t, StateIdle, a.State())

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(500), 1000))
	require.NoError(t, err)

	assert.Equal(t, StateDone, a.State())
	assert.Equal(t,
		[]State{StateIdle, StatePriming, StateRecording, StateFinalizing, StateDone},
		states(a.History()))
	for _, tr := range a.History() {
		assert.NotEmpty(t, tr.Event)
		assert.True(t, canTransition(tr.From, tr.To))
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc)
	images := []source.SceneImage{pngImage(t, red), pngImage(t, green)}
	narration := audio.NewNarration(pcmRamp(2000), 1000)

	first, err := a.Assemble(context.Background(), images, narration)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), images, narration)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Frames, second.Frames)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 2, enc.opened)
}

func TestAssemble_DecodeFailureNeverOpensEncoder(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc)
	images := []source.SceneImage{
		pngImage(t, red),
		{Bytes: []byte("definitely not a png"), MIMEType: "image/png"},
		pngImage(t, blue),
	}

	blob, err := a.Assemble(context.Background(), images, audio.NewNarration(pcmRamp(1000), 1000))
	assert.Nil(t, blob)
	var decodeErr *source.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 1, decodeErr.Index)
	assert.Equal(t, 0, enc.opened)
	assert.Equal(t, []State{StateIdle, StateFailed}, states(a.History()))
}

func TestAssemble_InvalidNarrationIsInitError(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc)

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(nil, 1000))
	var initErr *audio.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, 0, enc.opened)
	assert.Equal(t, []State{StateIdle, StatePriming, StateFailed}, states(a.History()))
}

// startRecorder records what the run had set up when its clock started.
type startRecorder struct {
	FrameClock
	onStart func()
}

func (c *startRecorder) Start(ctx context.Context) <-chan float64 {
	c.onStart()
	return c.FrameClock.Start(ctx)
}

func TestAssemble_ClockStartsOncePlaybackIsReady(t *testing.T) {
	enc := &fakeEncoder{}
	var a *Assembler
	var starts, openedAtStart int
	var stateAtStart State
	clock := func(fps int) FrameClock {
		return &startRecorder{FrameClock: NewVirtualClock(fps), onStart: func() {
			starts++
			openedAtStart = enc.opened
			stateAtStart = a.State()
		}}
	}
	a = newTestAssembler(t, enc, WithClock(clock))

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(1000), 1000))
	require.NoError(t, err)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, openedAtStart)
	assert.Equal(t, StatePriming, stateAtStart)
}

func TestAssemble_NoClockWithoutPlayback(t *testing.T) {
	started := false
	clock := func(fps int) FrameClock {
		started = true
		return NewVirtualClock(fps)
	}
	a := newTestAssembler(t, &fakeEncoder{}, WithClock(clock))

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration([]byte{1, 2, 3}, 1000))
	var initErr *audio.InitError
	require.ErrorAs(t, err, &initErr)
	assert.False(t, started)
}

func TestAssemble_EncoderSetupFailure(t *testing.T) {
	a := newTestAssembler(t, &fakeEncoder{openErr: errors.New("no h264")})

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(100), 1000))
	var setupErr *video.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, StateFailed, a.State())
}

func TestAssemble_EncoderErrorDiscardsChunks(t *testing.T) {
	enc := &fakeEncoder{failAfter: 3}
	a := newTestAssembler(t, enc)

	blob, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(30000), 1000))
	assert.Nil(t, blob)

	var encErr *video.EncodingError
	require.ErrorAs(t, err, &encErr)
	var ffErr *video.FFmpegError
	assert.ErrorAs(t, err, &ffErr)
	assert.Equal(t, []State{StateIdle, StatePriming, StateRecording, StateFailed}, states(a.History()))
}

func TestAssemble_EncoderStoppingEarlyFails(t *testing.T) {
	a := newTestAssembler(t, &fakeEncoder{stopEarly: true})

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(30000), 1000))
	var encErr *video.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, video.ErrSessionClosed)
}

func TestAssemble_DelayedTicksDuplicateFrames(t *testing.T) {
	enc := &fakeEncoder{}
	a := newTestAssembler(t, enc, WithFPS(10), WithClock(scripted(0, 0.55, 1.2)))
	pcm := pcmRamp(1000) // 1 second

	blob, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcm, 1000))
	require.NoError(t, err)

	assert.Equal(t, 10, blob.Frames)
	assert.Equal(t, 10, enc.session().frames)
	assert.Equal(t, pcm, enc.session().audio.Bytes())
}

func TestAssemble_Cancelled(t *testing.T) {
	a := newTestAssembler(t, &fakeEncoder{}, WithClock(scripted(0)))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	blob, err := a.Assemble(ctx, []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(5000), 1000))
	assert.Nil(t, blob)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, a.State())
}

func TestAssemble_WatchdogReportsStall(t *testing.T) {
	a := newTestAssembler(t, &fakeEncoder{},
		WithClock(scripted(0)),
		WithWatchdog(0, 50*time.Millisecond))

	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(5000), 1000))
	var encErr *video.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, video.ErrStalled)
	assert.NotErrorIs(t, err, ErrCancelled)
}

func TestAssemble_ConcurrentCallIsBusy(t *testing.T) {
	a := newTestAssembler(t, &fakeEncoder{}, WithClock(scripted(0)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := a.Assemble(ctx, []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(5000), 1000))
		done <- err
	}()

	require.Eventually(t, func() bool { return a.State() == StateRecording }, 2*time.Second, 5*time.Millisecond)
	_, err := a.Assemble(context.Background(), []source.SceneImage{pngImage(t, red)}, audio.NewNarration(pcmRamp(10), 1000))
	assert.ErrorIs(t, err, ErrBusy)

	cancel()
	assert.ErrorIs(t, <-done, ErrCancelled)
}

func TestWeightedPolicy(t *testing.T) {
	tl, err := WeightedPolicy([]float64{1, 3})(4, 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tl.SceneDuration(0), 1e-9)

	tl, err = WeightedPolicy([]float64{1})(4, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, tl.SceneDuration(0), 1e-9)
}

func TestVariedPolicy_IsReproducible(t *testing.T) {
	a, err := VariedPolicy(7)(9, 3)
	require.NoError(t, err)
	b, err := VariedPolicy(7)(9, 3)
	require.NoError(t, err)

	assert.InDelta(t, 9.0, a.Duration(), 1e-9)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, a.SceneDuration(i), b.SceneDuration(i), 1e-12)
	}
}

func TestVirtualClock_AdvancesOneFramePerTick(t *testing.T) {
	c := NewVirtualClock(25)
	ticks := c.Start(context.Background())
	for k := 0; k < 5; k++ {
		assert.InDelta(t, float64(k)/25, <-ticks, 1e-12)
	}
	c.Stop()
	c.Stop()
}

func TestRealtimeClock_IsMonotonic(t *testing.T) {
	c := NewRealtimeClock(200)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ticks := c.Start(ctx)

	prev := -1.0
	for i := 0; i < 5; i++ {
		v := <-ticks
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
	c.Stop()
}
