package video

import (
	"errors"
	"fmt"
)

var (
	// ErrStalled is wrapped in an EncodingError when a run exceeds its watchdog.
	ErrStalled = errors.New("encoder stalled")
	// ErrSessionClosed is returned when writing to a stopped or exited session.
	ErrSessionClosed = errors.New("encoding session closed")
	// ErrUnsupportedContainer is returned for containers with no muxer mapping.
	ErrUnsupportedContainer = errors.New("unsupported container")
	// ErrUnsupportedCodec is returned when ffmpeg lacks the requested encoder.
	ErrUnsupportedCodec = errors.New("unsupported video codec")
	// ErrInvalidStream is returned for non-positive stream dimensions or rates.
	ErrInvalidStream = errors.New("invalid stream parameters")
)

// SetupError means the encoder could not be started at all: no ffmpeg, no
// suitable codec, or bad stream parameters.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("media capture or encoding not supported: %v", e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// EncodingError means a started encoder failed mid-stream.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding failed: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
