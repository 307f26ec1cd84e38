package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects everything written to it.
type recordingSink struct {
	bytes.Buffer
	writes int
	closed bool
	err    error
}

func (s *recordingSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.writes++
	return s.Buffer.Write(p)
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func ramp(frames int) []byte {
	pcm := make([]byte, frames*2)
	for i := range pcm {
		pcm[i] = byte(i * 7)
	}
	return pcm
}

func TestNarration_Duration(t *testing.T) {
	n := NewNarration(ramp(48000), 24000)
	require.NoError(t, n.Validate())
	assert.Equal(t, 48000, n.Frames())
	assert.InDelta(t, 2.0, n.Duration(), 1e-12)
}

func TestNarration_Validate(t *testing.T) {
	assert.ErrorIs(t, (*Narration)(nil).Validate(), ErrEmptyNarration)
	assert.ErrorIs(t, NewNarration(nil, 24000).Validate(), ErrEmptyNarration)
	assert.ErrorIs(t, NewNarration([]byte{1, 2}, 0).Validate(), ErrInvalidFormat)
	assert.ErrorIs(t, NewNarration([]byte{1, 2, 3}, 24000).Validate(), ErrInvalidFormat)
}

func TestDecodeBase64PCM(t *testing.T) {
	pcm := ramp(100)
	n, err := DecodeBase64PCM(base64.StdEncoding.EncodeToString(pcm), DefaultSampleRate)
	require.NoError(t, err)
	assert.Equal(t, pcm, n.PCM)
	assert.Equal(t, 1, n.Channels)

	_, err = DecodeBase64PCM("!!!not-base64", DefaultSampleRate)
	assert.Error(t, err)
}

func TestConcat(t *testing.T) {
	a := NewNarration(ramp(10), 24000)
	b := NewNarration(ramp(5), 24000)

	n, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, 15, n.Frames())

	_, err = Concat(a, NewNarration(ramp(5), 16000))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNewBridge_InitErrors(t *testing.T) {
	_, err := NewBridge(NewNarration(ramp(10), 24000), nil)
	var initErr *InitError
	require.True(t, errors.As(err, &initErr))
	assert.ErrorIs(t, err, ErrNoOutput)

	_, err = NewBridge(NewNarration(nil, 24000), &recordingSink{})
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, ErrEmptyNarration)
}

func TestBridge_PlaysIdenticalSignal(t *testing.T) {
	pcm := ramp(24000) // one second
	sink := &recordingSink{}
	b, err := NewBridge(NewNarration(pcm, 24000), sink)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Advance(0.1), ErrNotStarted)

	require.NoError(t, b.Start())
	assert.ErrorIs(t, b.Start(), ErrAlreadyStarted)

	for _, elapsed := range []float64{0.04, 0.08, 0.08, 0.5, 0.3, 0.75} {
		require.NoError(t, b.Advance(elapsed))
	}
	assert.Equal(t, 18000*2, b.Written())

	require.NoError(t, b.Finish())
	require.NoError(t, b.Finish())

	assert.True(t, sink.closed)
	assert.Equal(t, pcm, sink.Bytes())
	assert.Equal(t, len(pcm), b.Written())
}

func TestBridge_AdvancePastEndClamps(t *testing.T) {
	pcm := ramp(100)
	sink := &recordingSink{}
	b, err := NewBridge(NewNarration(pcm, 1000), sink)
	require.NoError(t, err)
	require.NoError(t, b.Start())

	require.NoError(t, b.Advance(10))
	assert.Equal(t, pcm, sink.Bytes())
	assert.False(t, sink.closed)
}

func TestBridge_SinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("pipe closed")}
	b, err := NewBridge(NewNarration(ramp(100), 1000), sink)
	require.NoError(t, err)
	require.NoError(t, b.Start())

	assert.Error(t, b.Advance(0.05))
}

func TestWAV_RoundTrip(t *testing.T) {
	n := NewNarration(ramp(1234), 24000)

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, n))
	assert.Equal(t, wavHeaderSize+len(n.PCM), buf.Len())

	got, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, n.SampleRate, got.SampleRate)
	assert.Equal(t, n.Channels, got.Channels)
	assert.Equal(t, n.PCM, got.PCM)
}

func TestReadWAV_Rejects(t *testing.T) {
	_, err := ReadWAV(bytes.NewReader([]byte("RIFX....WAVE")))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, err = ReadWAV(bytes.NewReader([]byte("short")))
	assert.ErrorIs(t, err, ErrNotWAV)
}

func TestReadWAV_RejectsOversizedFmtChunk(t *testing.T) {
	for _, size := range []uint32{8, maxFmtChunk + 2, 0xFFFFFFF0} {
		var buf bytes.Buffer
		buf.WriteString("RIFF")
		_ = binary.Write(&buf, binary.LittleEndian, uint32(36))
		buf.WriteString("WAVEfmt ")
		_ = binary.Write(&buf, binary.LittleEndian, size)
		buf.Write(make([]byte, 16))

		_, err := ReadWAV(&buf)
		assert.ErrorIs(t, err, ErrNotWAV, "size %d", size)
	}
}
