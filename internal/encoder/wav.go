package encoder

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/pitchcoach/internal/audio"
)

const wavPCMFormat = 1

// wavEncoder writes 16-bit PCM WAV into memory.
type wavEncoder struct {
	file  *memFile
	enc   *wav.Encoder
	buf   goaudio.IntBuffer
	wrote bool
	done  bool
}

// NewWAV creates a 16-bit PCM WAV encoder. Any positive sample rate works.
func NewWAV(p Params) (Encoder, error) {
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: wav at %d Hz", ErrUnsupported, p.SampleRate)
	}
	if p.Channels == 0 {
		p.Channels = 1
	}
	f := &memFile{}
	return &wavEncoder{
		file: f,
		enc:  wav.NewEncoder(f, p.SampleRate, audio.BitDepth, p.Channels, wavPCMFormat),
		buf: goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
			SourceBitDepth: audio.BitDepth,
		},
	}, nil
}

func (e *wavEncoder) MimeType() string { return MimeWAV }

func (e *wavEncoder) Write(samples []float32) error {
	if e.done {
		return ErrFinalized
	}
	if len(samples) == 0 {
		return nil
	}
	pcm := audio.Float32ToInt16(samples)
	if cap(e.buf.Data) < len(pcm) {
		e.buf.Data = make([]int, len(pcm))
	}
	e.buf.Data = e.buf.Data[:len(pcm)]
	for i, v := range pcm {
		e.buf.Data[i] = int(v)
	}
	if err := e.enc.Write(&e.buf); err != nil {
		return fmt.Errorf("wav write: %w", err)
	}
	e.wrote = true
	return nil
}

// Finalize patches the RIFF header sizes and returns the file.
func (e *wavEncoder) Finalize() ([]byte, error) {
	if e.done {
		return nil, ErrFinalized
	}
	e.done = true
	if !e.wrote {
		// the header is only emitted by the first Write
		e.buf.Data = e.buf.Data[:0]
		if err := e.enc.Write(&e.buf); err != nil {
			return nil, fmt.Errorf("wav header: %w", err)
		}
	}
	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("wav close: %w", err)
	}
	return e.file.data, nil
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to fill
// in chunk sizes on Close.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		if end > int64(cap(m.data)) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.data)
			m.data = grown
		} else {
			m.data = m.data[:end]
		}
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.data)) + offset
	default:
		return 0, errors.New("memfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = abs
	return abs, nil
}
