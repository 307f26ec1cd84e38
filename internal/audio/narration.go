// Package audio holds the narration track and the bridge that plays it into
// the encoder.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultSampleRate is the rate of the speech model's raw PCM output.
const DefaultSampleRate = 24000

// bytesPerSample is fixed: narration is signed 16-bit little-endian PCM.
const bytesPerSample = 2

var (
	// ErrEmptyNarration is returned for narration with no samples.
	ErrEmptyNarration = errors.New("narration has no samples")
	// ErrInvalidFormat is returned for a zero rate, no channels or a torn sample.
	ErrInvalidFormat = errors.New("invalid narration format")
	// ErrNoOutput is returned when the bridge has nowhere to play the narration.
	ErrNoOutput = errors.New("no audio output available")
	// ErrAlreadyStarted is returned when playback is started twice.
	ErrAlreadyStarted = errors.New("narration playback already started")
)

// InitError reports that narration playback could not be set up.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("audio init: %v", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Narration is a decoded s16le PCM narration track.
type Narration struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// NewNarration wraps mono PCM at the given rate.
func NewNarration(pcm []byte, sampleRate int) *Narration {
	return &Narration{PCM: pcm, SampleRate: sampleRate, Channels: 1}
}

// DecodeBase64PCM decodes base64 mono s16le PCM, as returned by the speech API.
func DecodeBase64PCM(data string, sampleRate int) (*Narration, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	n := NewNarration(pcm, sampleRate)
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks the narration can be played.
func (n *Narration) Validate() error {
	if n == nil || len(n.PCM) == 0 {
		return ErrEmptyNarration
	}
	if n.SampleRate <= 0 || n.Channels <= 0 {
		return fmt.Errorf("%w: rate=%d channels=%d", ErrInvalidFormat, n.SampleRate, n.Channels)
	}
	if len(n.PCM)%n.FrameSize() != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrInvalidFormat, len(n.PCM), n.FrameSize())
	}
	return nil
}

// FrameSize is the byte size of one sample across all channels.
func (n *Narration) FrameSize() int {
	return bytesPerSample * n.Channels
}

// Frames returns the number of sample frames.
func (n *Narration) Frames() int {
	if n.Channels <= 0 {
		return 0
	}
	return len(n.PCM) / n.FrameSize()
}

// Duration returns the narration length in seconds.
func (n *Narration) Duration() float64 {
	if n.SampleRate <= 0 {
		return 0
	}
	return float64(n.Frames()) / float64(n.SampleRate)
}

// Concat joins narrations that share a format.
func Concat(parts ...*Narration) (*Narration, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyNarration
	}
	out := &Narration{SampleRate: parts[0].SampleRate, Channels: parts[0].Channels}
	for i, p := range parts {
		if p.SampleRate != out.SampleRate || p.Channels != out.Channels {
			return nil, fmt.Errorf("%w: part %d is %d Hz x%d, want %d Hz x%d",
				ErrInvalidFormat, i, p.SampleRate, p.Channels, out.SampleRate, out.Channels)
		}
		out.PCM = append(out.PCM, p.PCM...)
	}
	return out, nil
}
