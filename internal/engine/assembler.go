// Package engine assembles scene images and a narration track into one
// encoded video by rendering an animated canvas in real time and streaming
// it, together with the narration, through a video.Encoder.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivlev/faceless/internal/audio"
	"github.com/ivlev/faceless/internal/effects"
	"github.com/ivlev/faceless/internal/renderer"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/system"
	"github.com/ivlev/faceless/internal/timeline"
	"github.com/ivlev/faceless/internal/video"
)

const (
	DefaultFPS         = 30
	DefaultStallFactor = 4.0
	DefaultGrace       = 30 * time.Second
)

var (
	// ErrCancelled is returned when the caller's context ends a run.
	ErrCancelled = errors.New("assembly cancelled")
	// ErrBusy is returned when Assemble is called while a run is in progress.
	ErrBusy = errors.New("assembler busy")
)

// Blob is a finished video.
type Blob struct {
	Data     []byte
	MIMEType string
	// Duration is the narration length in seconds.
	Duration float64
	Frames   int
	RunID    string
}

// TimelinePolicy decides how the narration duration is split across scenes.
type TimelinePolicy func(duration float64, scenes int) (timeline.Timeline, error)

// WeightedPolicy splits the duration proportionally to weights, falling back
// to an even split when the weights do not match the scene count.
func WeightedPolicy(weights []float64) TimelinePolicy {
	return func(d float64, n int) (timeline.Timeline, error) {
		if len(weights) != n {
			return timeline.Even(d, n)
		}
		return timeline.Weighted(d, weights)
	}
}

// VariedPolicy gives every scene a slightly different length, reproducible
// for a given seed.
func VariedPolicy(seed int64) TimelinePolicy {
	return func(d float64, n int) (timeline.Timeline, error) {
		return timeline.Varied(d, n, rand.New(rand.NewSource(seed)))
	}
}

type options struct {
	logger      *zap.Logger
	fps         int
	width       int
	height      int
	animator    effects.Animator
	policy      TimelinePolicy
	decoder     *source.Decoder
	clock       ClockFactory
	stallFactor float64
	grace       time.Duration
}

// Option configures an Assembler.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithFPS(fps int) Option {
	return func(o *options) {
		if fps > 0 {
			o.fps = fps
		}
	}
}

func WithCanvasSize(width, height int) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.width, o.height = width, height
		}
	}
}

func WithAnimator(a effects.Animator) Option {
	return func(o *options) {
		if a != nil {
			o.animator = a
		}
	}
}

func WithTimeline(p TimelinePolicy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

func WithDecoder(d *source.Decoder) Option {
	return func(o *options) {
		if d != nil {
			o.decoder = d
		}
	}
}

func WithClock(f ClockFactory) Option {
	return func(o *options) {
		if f != nil {
			o.clock = f
		}
	}
}

// WithWatchdog bounds a run to duration*factor + grace.
func WithWatchdog(factor float64, grace time.Duration) Option {
	return func(o *options) {
		if factor >= 0 {
			o.stallFactor = factor
		}
		if grace >= 0 {
			o.grace = grace
		}
	}
}

// Assembler runs one assembly at a time and keeps the state history of the
// latest run.
type Assembler struct {
	encoder video.Encoder
	opts    options

	run sync.Mutex

	mu      sync.Mutex
	state   State
	history []Transition
}

// NewAssembler creates an Assembler that encodes with enc.
func NewAssembler(enc video.Encoder, opts ...Option) *Assembler {
	o := options{
		logger:      zap.NewNop(),
		fps:         DefaultFPS,
		width:       renderer.DefaultWidth,
		height:      renderer.DefaultHeight,
		animator:    effects.NewKenBurns(),
		policy:      timeline.Even,
		decoder:     source.NewDecoder(runtime.NumCPU()),
		clock:       NewRealtimeClock,
		stallFactor: DefaultStallFactor,
		grace:       DefaultGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Assembler{encoder: enc, opts: o, state: StateIdle}
}

// State returns the state of the current or latest run.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns the transitions of the current or latest run.
func (a *Assembler) History() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Assembler) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateIdle
	a.history = nil
}

func (a *Assembler) transition(to State, event string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, to) {
		return fmt.Errorf("%w: %s -> %s on %q", ErrInvalidTransition, a.state, to, event)
	}
	a.history = append(a.history, Transition{From: a.state, To: to, Event: event, At: time.Now()})
	a.state = to
	return nil
}

// Assemble renders images over the narration and returns the encoded video.
// On any failure no blob is returned and the chunks produced so far are
// discarded.
func (a *Assembler) Assemble(ctx context.Context, images []source.SceneImage, narration *audio.Narration) (*Blob, error) {
	if !a.run.TryLock() {
		return nil, ErrBusy
	}
	defer a.run.Unlock()
	a.reset()

	r := &run{
		a:      a,
		id:     uuid.NewString(),
		parent: ctx,
	}
	r.logger = a.opts.logger.With(zap.String("run_id", r.id))
	return r.execute(images, narration)
}

// run holds the per-assembly state driven by the loop goroutine.
type run struct {
	a      *Assembler
	id     string
	parent context.Context
	logger *zap.Logger

	frames   []source.DecodedFrame
	tl       timeline.Timeline
	session  video.Session
	bridge   *audio.Bridge
	comp     *renderer.Compositor
	clock    FrameClock
	chunks   [][]byte
	captured int
	total    int
}

func (r *run) execute(images []source.SceneImage, narration *audio.Narration) (*Blob, error) {
	o := r.a.opts
	start := time.Now()

	frames, err := o.decoder.Decode(r.parent, images)
	if err != nil {
		if r.parent.Err() != nil {
			return r.fail("decode cancelled", r.cancelled())
		}
		return r.fail("decode failed", err)
	}
	r.frames = frames
	r.logger.Debug("scene images decoded", zap.Int("scenes", len(frames)), zap.Duration("took", time.Since(start)))

	if err := r.a.transition(StatePriming, "assemble"); err != nil {
		return r.fail("priming", err)
	}

	if err := narration.Validate(); err != nil {
		return r.fail("narration unusable", &audio.InitError{Err: err})
	}
	d := narration.Duration()
	r.tl, err = o.policy(d, len(frames))
	if err != nil {
		return r.fail("timeline", err)
	}
	r.total = int(math.Ceil(d*float64(o.fps) - 1e-9))

	watchdog := time.Duration(d*o.stallFactor*float64(time.Second)) + o.grace
	runCtx, cancel := context.WithTimeout(r.parent, watchdog)
	defer cancel()

	spec := video.StreamSpec{
		Width:      o.width,
		Height:     o.height,
		FPS:        o.fps,
		SampleRate: narration.SampleRate,
		Channels:   narration.Channels,
	}
	r.session, err = r.a.encoder.Open(runCtx, spec)
	if err != nil {
		var setupErr *video.SetupError
		if !errors.As(err, &setupErr) {
			err = &video.SetupError{Err: err}
		}
		return r.fail("encoder unavailable", err)
	}

	r.bridge, err = audio.NewBridge(narration, r.session.Audio())
	if err != nil {
		return r.fail("no audio output", err)
	}
	r.comp = renderer.NewCompositor(o.width, o.height)

	// Playback and the frame clock share one epoch: the clock starts right
	// after the bridge.
	if err := r.bridge.Start(); err != nil {
		return r.fail("narration start", &audio.InitError{Err: err})
	}
	r.clock = o.clock(o.fps)
	ticks := r.clock.Start(runCtx)
	defer r.clock.Stop()
	if err := r.a.transition(StateRecording, "encoder opened"); err != nil {
		return r.fail("recording", err)
	}
	r.logger.Info("recording",
		zap.Int("scenes", len(frames)),
		zap.Float64("duration", d),
		zap.Int("fps", o.fps),
		zap.Int("frames", r.total),
		zap.Duration("watchdog", watchdog),
	)

	events := r.session.Events()
	for {
		if r.parent.Err() != nil {
			return r.fail("cancelled", r.cancelled())
		}

		select {
		case <-runCtx.Done():
			if r.parent.Err() != nil {
				return r.fail("cancelled", r.cancelled())
			}
			return r.fail("watchdog expired", &video.EncodingError{Err: video.ErrStalled})

		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if !r.tl.Done(t) {
				if err := r.tick(t); err != nil {
					return r.fail("tick", err)
				}
				continue
			}
			ticks = nil
			r.clock.Stop()
			if err := r.a.transition(StateFinalizing, "duration reached"); err != nil {
				return r.fail("finalizing", err)
			}
			if err := r.finalize(); err != nil {
				return r.fail("finalize", err)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				if runCtx.Err() == nil {
					return r.fail("encoder gone", &video.EncodingError{Err: video.ErrSessionClosed})
				}
				continue
			}
			switch ev.Kind {
			case video.EventData:
				r.chunks = append(r.chunks, ev.Chunk)
			case video.EventFailed:
				return r.fail("encoder failed", asEncodingError(ev.Err))
			case video.EventStopped:
				if r.a.State() != StateFinalizing {
					return r.fail("encoder stopped early", &video.EncodingError{Err: video.ErrSessionClosed})
				}
				return r.done(d, start)
			}
		}
	}
}

// tick draws the scene at t, plays narration up to t and captures every
// frame slot that t has passed.
func (r *run) tick(t float64) error {
	o := r.a.opts
	index, progress := r.tl.At(t)
	frame := r.frames[index]
	w, h := r.comp.Size()
	r.comp.RenderFrame(frame, o.animator.Transform(progress, frame.Width, frame.Height, w, h))

	if err := r.bridge.Advance(t); err != nil {
		return &video.EncodingError{Err: fmt.Errorf("push narration: %w", err)}
	}
	for r.captured < r.total && float64(r.captured)/float64(o.fps) <= t {
		if err := r.capture(); err != nil {
			return err
		}
	}
	return nil
}

// finalize pads the capture to the full frame count, flushes the narration
// and asks the encoder to stop.
func (r *run) finalize() error {
	padded := r.total - r.captured
	for r.captured < r.total {
		if err := r.capture(); err != nil {
			return err
		}
	}
	if err := r.bridge.Finish(); err != nil {
		return &video.EncodingError{Err: fmt.Errorf("flush narration: %w", err)}
	}
	if err := r.session.Stop(); err != nil {
		return &video.EncodingError{Err: fmt.Errorf("stop encoder: %w", err)}
	}
	r.logger.Debug("finalizing", zap.Int("padded_frames", padded))
	return nil
}

func (r *run) capture() error {
	if err := r.session.WriteFrame(r.comp.Snapshot()); err != nil {
		return &video.EncodingError{Err: fmt.Errorf("write frame %d: %w", r.captured, err)}
	}
	r.captured++
	return nil
}

func (r *run) done(d float64, start time.Time) (*Blob, error) {
	if err := r.a.transition(StateDone, "encoder stopped"); err != nil {
		return r.fail("done", err)
	}
	blob := &Blob{
		Data:     bytes.Join(r.chunks, nil),
		MIMEType: r.a.encoder.MIMEType(),
		Duration: d,
		Frames:   r.captured,
		RunID:    r.id,
	}
	r.chunks = nil
	r.logger.Info("assembly done",
		zap.Int("bytes", len(blob.Data)),
		zap.Int("frames", blob.Frames),
		zap.Duration("took", time.Since(start)),
	)
	system.LogReport(r.parent, r.logger, "host after assembly")
	return blob, nil
}

func (r *run) fail(reason string, err error) (*Blob, error) {
	r.chunks = nil
	from := r.a.State()
	if terr := r.a.transition(StateFailed, reason); terr != nil {
		r.logger.Error("state machine", zap.Error(terr))
	}
	r.logger.Warn("assembly failed",
		zap.String("state", string(from)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return nil, err
}

func (r *run) cancelled() error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(r.parent))
}

func asEncodingError(err error) error {
	if err == nil {
		err = video.ErrSessionClosed
	}
	var encErr *video.EncodingError
	if errors.As(err, &encErr) {
		return err
	}
	return &video.EncodingError{Err: err}
}
