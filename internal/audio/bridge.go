package audio

import (
	"errors"
	"fmt"
	"io"
)

// ErrNotStarted is returned when samples are pushed before playback starts.
var ErrNotStarted = errors.New("narration playback not started")

// Bridge plays a narration into a sink, usually the encoder's audio input.
// Every PCM byte reaches the sink exactly once and in order, so the track
// captured into the output is the narration itself.
//
// A Bridge is driven from a single goroutine and is not safe for concurrent use.
type Bridge struct {
	narration *Narration
	sink      io.WriteCloser
	started   bool
	finished  bool
	written   int
}

// NewBridge validates the narration and binds it to sink. It fails with an
// *InitError when the narration is unusable or there is no sink.
func NewBridge(n *Narration, sink io.WriteCloser) (*Bridge, error) {
	if err := n.Validate(); err != nil {
		return nil, &InitError{Err: err}
	}
	if sink == nil {
		return nil, &InitError{Err: ErrNoOutput}
	}
	return &Bridge{narration: n, sink: sink}, nil
}

// Start begins playback. Elapsed times passed to Advance are measured from
// here, so the caller starts its frame clock right after Start returns.
func (b *Bridge) Start() error {
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true
	return nil
}

// Duration returns the narration length in seconds.
func (b *Bridge) Duration() float64 {
	return b.narration.Duration()
}

// Written returns how many PCM bytes have reached the sink.
func (b *Bridge) Written() int {
	return b.written
}

// Advance plays every sample up to elapsed seconds.
func (b *Bridge) Advance(elapsed float64) error {
	if !b.started {
		return ErrNotStarted
	}
	if b.finished || elapsed <= 0 {
		return nil
	}

	frames := int(elapsed * float64(b.narration.SampleRate))
	target := frames * b.narration.FrameSize()
	if target > len(b.narration.PCM) {
		target = len(b.narration.PCM)
	}
	return b.writeTo(target)
}

// Finish plays whatever remains and closes the sink. It is safe to call twice.
func (b *Bridge) Finish() error {
	if !b.started {
		return ErrNotStarted
	}
	if b.finished {
		return nil
	}
	if err := b.writeTo(len(b.narration.PCM)); err != nil {
		return err
	}
	b.finished = true
	if err := b.sink.Close(); err != nil {
		return fmt.Errorf("close audio sink: %w", err)
	}
	return nil
}

func (b *Bridge) writeTo(target int) error {
	if target <= b.written {
		return nil
	}
	n, err := b.sink.Write(b.narration.PCM[b.written:target])
	b.written += n
	if err != nil {
		return fmt.Errorf("play narration: %w", err)
	}
	return nil
}
