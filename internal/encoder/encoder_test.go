package encoder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiatePrefersFirstSupported(t *testing.T) {
	r := NewRegistry(nil)
	enc, err := r.Negotiate([]string{MimeOggOpus, MimeWAV}, Params{SampleRate: 48000, Channels: 1, Bitrate: 32000})
	require.NoError(t, err)
	assert.Equal(t, MimeOggOpus, enc.MimeType())
}

func TestNegotiateFallsBackWhenCodecRejectsRate(t *testing.T) {
	r := NewRegistry(nil)
	enc, err := r.Negotiate([]string{MimeOggOpus}, Params{SampleRate: 44100, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, MimeWAV, enc.MimeType())
}

func TestNegotiateSkipsUnknownTypes(t *testing.T) {
	r := NewRegistry(nil)
	enc, err := r.Negotiate([]string{"audio/webm;codecs=opus", "audio/mp4"}, Params{SampleRate: 48000})
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, enc.MimeType())

	enc, err = r.Negotiate(nil, Params{SampleRate: 48000})
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, enc.MimeType())
}

func TestNegotiateNormalizesMime(t *testing.T) {
	r := NewRegistry(nil)
	assert.True(t, r.Supported("Audio/Ogg; codecs=opus"))
	enc, err := r.Negotiate([]string{" audio/ogg; codecs=opus "}, Params{SampleRate: 48000})
	require.NoError(t, err)
	assert.Equal(t, MimeOggOpus, enc.MimeType())
}

func TestNegotiateFailsWhenNothingWorks(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(MimeWAV, func(Params) (Encoder, error) { return nil, ErrUnsupported })
	_, err := r.Negotiate([]string{"audio/flac"}, Params{SampleRate: 44100})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRegisterCustomEncoder(t *testing.T) {
	r := NewRegistry(nil)
	called := false
	r.Register("audio/x-test", func(p Params) (Encoder, error) {
		called = true
		return NewWAV(p)
	})
	_, err := r.Negotiate([]string{"audio/x-test"}, Params{SampleRate: 16000})
	require.NoError(t, err)
	assert.True(t, called)
}

func sawtooth(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%100)/100 - 0.5
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	enc, err := NewWAV(Params{SampleRate: 22050, Channels: 1})
	require.NoError(t, err)

	in := sawtooth(1000)
	require.NoError(t, enc.Write(in[:300]))
	require.NoError(t, enc.Write(in[300:]))
	data, err := enc.Finalize()
	require.NoError(t, err)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Len(t, data, 44+2*len(in))

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(22050), dec.SampleRate)
	require.Len(t, buf.Data, len(in))
	for i, v := range buf.Data {
		assert.InDelta(t, float64(in[i])*32767, float64(v), 1, "sample %d", i)
	}
}

func TestWAVEmptyRecordingHasHeader(t *testing.T) {
	enc, err := NewWAV(Params{SampleRate: 48000})
	require.NoError(t, err)
	data, err := enc.Finalize()
	require.NoError(t, err)
	assert.Len(t, data, 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
}

func TestWAVRejectsBadRate(t *testing.T) {
	_, err := NewWAV(Params{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOpusProducesOggStream(t *testing.T) {
	enc, err := NewOpus(Params{SampleRate: 48000, Channels: 1, Bitrate: 32000})
	require.NoError(t, err)

	// 2.5 frames; the tail is padded on finalize
	require.NoError(t, enc.Write(sawtooth(2400)))
	data, err := enc.Finalize()
	require.NoError(t, err)

	require.Greater(t, len(data), 4)
	assert.Equal(t, "OggS", string(data[0:4]))
	assert.True(t, bytes.Contains(data, []byte("OpusHead")))
	assert.True(t, bytes.Contains(data, []byte("OpusTags")))
	// header pages plus three audio pages
	assert.Equal(t, 5, bytes.Count(data, []byte("OggS")))
}

func TestOpusRejectsUnsupportedInput(t *testing.T) {
	_, err := NewOpus(Params{SampleRate: 44100, Channels: 1})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = NewOpus(Params{SampleRate: 48000, Channels: 2})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFinalizeIsTerminal(t *testing.T) {
	for _, factory := range []Factory{NewWAV, NewOpus} {
		enc, err := factory(Params{SampleRate: 48000, Channels: 1})
		require.NoError(t, err)
		_, err = enc.Finalize()
		require.NoError(t, err)

		_, err = enc.Finalize()
		assert.True(t, errors.Is(err, ErrFinalized), enc.MimeType())
		assert.ErrorIs(t, enc.Write([]float32{0}), ErrFinalized)
	}
}

func TestMemFileSeekAndOverwrite(t *testing.T) {
	f := &memFile{}
	_, err := f.Write([]byte("hello world"))
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("J"))
	require.NoError(t, err)
	pos, err := f.Seek(0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(11), pos)
	assert.Equal(t, "Jello world", string(f.data))

	_, err = f.Seek(-1, 0)
	assert.Error(t, err)
}
