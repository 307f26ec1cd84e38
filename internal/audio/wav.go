package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotWAV is returned when a file is not a 16-bit PCM RIFF/WAVE file.
var ErrNotWAV = errors.New("not a 16-bit PCM wav file")

const wavHeaderSize = 44

// maxFmtChunk covers WAVE_FORMAT_EXTENSIBLE (40 bytes) with room to spare.
const maxFmtChunk = 64

// WriteWAV writes the narration as a canonical 44-byte-header WAV file.
func WriteWAV(w io.Writer, n *Narration) error {
	if err := n.Validate(); err != nil {
		return err
	}

	byteRate := n.SampleRate * n.FrameSize()
	dataSize := len(n.PCM)

	hdr := new(bytes.Buffer)
	hdr.Grow(wavHeaderSize)
	hdr.WriteString("RIFF")
	_ = binary.Write(hdr, binary.LittleEndian, uint32(36+dataSize))
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	_ = binary.Write(hdr, binary.LittleEndian, uint32(16))
	_ = binary.Write(hdr, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(hdr, binary.LittleEndian, uint16(n.Channels))
	_ = binary.Write(hdr, binary.LittleEndian, uint32(n.SampleRate))
	_ = binary.Write(hdr, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(hdr, binary.LittleEndian, uint16(n.FrameSize()))
	_ = binary.Write(hdr, binary.LittleEndian, uint16(bytesPerSample*8))
	hdr.WriteString("data")
	_ = binary.Write(hdr, binary.LittleEndian, uint32(dataSize))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(n.PCM); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// ReadWAV reads a 16-bit PCM WAV file, skipping chunks it does not need.
func ReadWAV(r io.Reader) (*Narration, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		n       Narration
		haveFmt bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtChunk {
				return nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrNotWAV, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			n.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			n.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			pcm, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return nil, fmt.Errorf("read wav data: %w", err)
			}
			n.PCM = pcm
			if err := n.Validate(); err != nil {
				return nil, err
			}
			return &n, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
			}
		}
	}
}
