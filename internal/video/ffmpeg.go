package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/ivlev/faceless/internal/system"
)

const (
	chunkSize      = 32 * 1024
	frameQueue     = 8
	audioQueue     = 64
	stderrTailSize = 8 * 1024
)

// FFmpegEncoder streams frames and narration through an ffmpeg child process.
type FFmpegEncoder struct {
	// FFmpegPath defaults to "ffmpeg" on PATH.
	FFmpegPath string
	Container  Container
	// VideoCodec defaults to the best H.264 encoder for mp4 and VP9 for webm.
	VideoCodec string
	// Quality defaults per codec (system.DefaultQuality).
	Quality int
	Logger  *zap.Logger

	probeOnce sync.Once
	resolved  string
	encoders  map[string]bool
	probeErr  error
}

// NewFFmpegEncoder creates an encoder for the given container.
func NewFFmpegEncoder(c Container, logger *zap.Logger) *FFmpegEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegEncoder{Container: c, Logger: logger}
}

// MIMEType implements Encoder.
func (e *FFmpegEncoder) MIMEType() string {
	return e.Container.MIMEType()
}

func (e *FFmpegEncoder) probe(ctx context.Context) error {
	e.probeOnce.Do(func() {
		e.resolved, e.probeErr = system.LookupFFmpeg(e.FFmpegPath)
		if e.probeErr != nil {
			return
		}
		e.encoders, e.probeErr = system.Encoders(ctx, e.resolved)
	})
	return e.probeErr
}

// Codec resolves the video codec this encoder will use.
func (e *FFmpegEncoder) Codec(ctx context.Context) (string, error) {
	if _, err := ParseContainer(string(e.Container)); err != nil {
		return "", err
	}
	if err := e.probe(ctx); err != nil {
		return "", err
	}

	codec := e.VideoCodec
	if codec == "" {
		if e.Container == ContainerWebM {
			codec = DefaultCodec(ContainerWebM)
		} else {
			codec = system.BestH264Encoder(e.encoders)
		}
	}
	if !e.encoders[codec] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	return codec, nil
}

// Open implements Encoder.
func (e *FFmpegEncoder) Open(ctx context.Context, spec StreamSpec) (Session, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SetupError{Err: err}
	}
	codec, err := e.Codec(ctx)
	if err != nil {
		return nil, &SetupError{Err: err}
	}
	quality := e.Quality
	if quality <= 0 {
		quality = system.DefaultQuality(codec)
	}

	args := buildArgs(spec, e.Container, codec, quality)
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("starting ffmpeg", zap.String("codec", codec), zap.Strings("args", args))

	s, err := startSession(ctx, e.resolved, args, logger)
	if err != nil {
		return nil, &SetupError{Err: err}
	}
	return s, nil
}

type ffmpegSession struct {
	cmd    *exec.Cmd
	args   []string
	logger *zap.Logger

	stdin  io.WriteCloser
	stdout io.ReadCloser
	audioW *os.File
	stderr *tailBuffer

	frames *feeder[*image.RGBA]
	pcm    *feeder[[]byte]
	events *eventQueue
	done   chan struct{}

	mu       sync.Mutex
	writeErr error
}

func startSession(ctx context.Context, ffmpegPath string, args []string, logger *zap.Logger) (*ffmpegSession, error) {
	// #nosec G204 - ffmpegPath is resolved by system.LookupFFmpeg
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("audio pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{audioR}
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = audioR.Close()
		_ = audioW.Close()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	_ = audioR.Close()

	done := make(chan struct{})
	s := &ffmpegSession{
		cmd:    cmd,
		args:   args,
		logger: logger,
		stdin:  stdin,
		stdout: stdout,
		audioW: audioW,
		stderr: stderr,
		frames: newFeeder[*image.RGBA](frameQueue, done),
		pcm:    newFeeder[[]byte](audioQueue, done),
		events: newEventQueue(ctx),
		done:   done,
	}

	go s.writeVideo()
	go s.writeAudio()
	go s.run(ctx)
	return s, nil
}

func (s *ffmpegSession) WriteFrame(img *image.RGBA) error {
	if err := s.frames.send(img); err != nil {
		system.PutImage(img)
		return err
	}
	return nil
}

func (s *ffmpegSession) Audio() io.WriteCloser {
	return audioSink{s: s}
}

func (s *ffmpegSession) Stop() error {
	s.frames.close()
	s.pcm.close()
	return nil
}

func (s *ffmpegSession) Events() <-chan Event {
	return s.events.out
}

func (s *ffmpegSession) setWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr == nil {
		s.writeErr = err
	}
}

func (s *ffmpegSession) getWriteErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

func (s *ffmpegSession) writeVideo() {
	defer s.stdin.Close()
	failed := false
	for {
		select {
		case img, ok := <-s.frames.ch:
			if !ok {
				return
			}
			if !failed {
				if _, err := s.stdin.Write(img.Pix); err != nil {
					s.setWriteErr(fmt.Errorf("write frame: %w", err))
					failed = true
				}
			}
			system.PutImage(img)
		case <-s.done:
			return
		}
	}
}

func (s *ffmpegSession) writeAudio() {
	defer s.audioW.Close()
	failed := false
	for {
		select {
		case buf, ok := <-s.pcm.ch:
			if !ok {
				return
			}
			if !failed {
				if _, err := s.audioW.Write(buf); err != nil {
					s.setWriteErr(fmt.Errorf("write audio: %w", err))
					failed = true
				}
			}
		case <-s.done:
			return
		}
	}
}

// run forwards stdout chunks until EOF, reaps the process and emits the
// terminal event.
func (s *ffmpegSession) run(ctx context.Context) {
	var readErr error
	for {
		buf := make([]byte, chunkSize)
		n, err := s.stdout.Read(buf)
		if n > 0 {
			s.events.push(Event{Kind: EventData, Chunk: buf[:n]})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("read output: %w", err)
			}
			break
		}
	}

	waitErr := s.cmd.Wait()
	close(s.done)

	switch {
	case waitErr != nil && ctx.Err() != nil:
		s.events.push(Event{Kind: EventFailed, Err: &EncodingError{Err: ctx.Err()}})
	case waitErr != nil:
		s.events.push(Event{Kind: EventFailed, Err: &EncodingError{Err: &FFmpegError{
			Args:   s.args,
			Stderr: s.stderr.String(),
			Err:    waitErr,
		}}})
	case readErr != nil:
		s.events.push(Event{Kind: EventFailed, Err: &EncodingError{Err: readErr}})
	case s.getWriteErr() != nil:
		s.events.push(Event{Kind: EventFailed, Err: &EncodingError{Err: s.getWriteErr()}})
	default:
		s.events.push(Event{Kind: EventStopped})
	}
	s.logger.Debug("ffmpeg exited", zap.Error(waitErr))
	s.events.close()
}

type audioSink struct {
	s *ffmpegSession
}

func (a audioSink) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	if err := a.s.pcm.send(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a audioSink) Close() error {
	a.s.pcm.close()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
