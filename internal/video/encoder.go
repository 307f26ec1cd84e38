package video

import (
	"context"
	"fmt"
	"image"
	"io"
)

// Container is the output file format.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerWebM Container = "webm"
)

// ParseContainer maps a flag or env value to a Container.
func ParseContainer(s string) (Container, error) {
	switch c := Container(s); c {
	case ContainerMP4, ContainerWebM:
		return c, nil
	case "":
		return ContainerMP4, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedContainer, s)
}

// MIMEType is the media type of blobs produced in this container.
func (c Container) MIMEType() string {
	switch c {
	case ContainerWebM:
		return "video/webm"
	default:
		return "video/mp4"
	}
}

// Ext is the file extension for this container, including the dot.
func (c Container) Ext() string {
	if c == ContainerWebM {
		return ".webm"
	}
	return ".mp4"
}

// StreamSpec describes the raw streams fed into an encoder.
type StreamSpec struct {
	Width      int
	Height     int
	FPS        int
	SampleRate int
	Channels   int
}

// Validate checks that every dimension and rate is positive and that the
// frame size suits yuv420p.
func (s StreamSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 || s.SampleRate <= 0 || s.Channels <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidStream, s)
	}
	if s.Width%2 != 0 || s.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d must be even", ErrInvalidStream, s.Width, s.Height)
	}
	return nil
}

// EventKind tells what an Event carries.
type EventKind int

const (
	// EventData carries one encoded chunk.
	EventData EventKind = iota
	// EventStopped is the last event of a session that flushed cleanly.
	EventStopped
	// EventFailed is the last event of a session that broke; Err is set.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventStopped:
		return "stopped"
	case EventFailed:
		return "failed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is emitted by a Session in stream order.
type Event struct {
	Kind  EventKind
	Chunk []byte
	Err   error
}

// Session is one running encode. Frames and audio may be written from
// different goroutines; each of them from one goroutine at a time.
type Session interface {
	// WriteFrame queues one canvas frame. The session takes ownership of img
	// and hands it back to the image pool once written.
	WriteFrame(img *image.RGBA) error
	// Audio is the sink for interleaved s16le samples.
	Audio() io.WriteCloser
	// Stop ends both inputs so the encoder flushes and emits EventStopped.
	Stop() error
	// Events delivers chunks followed by exactly one EventStopped or
	// EventFailed, then closes.
	Events() <-chan Event
}

// Encoder opens streaming encode sessions.
type Encoder interface {
	// Open starts a session. Failures are *SetupError. The session is torn
	// down when ctx is done.
	Open(ctx context.Context, spec StreamSpec) (Session, error)
	MIMEType() string
}
