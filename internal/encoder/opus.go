package encoder

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusFrameMillis = 20
	// Ogg granule positions for Opus always count 48 kHz samples.
	opusGranuleRate = 48000
	opusPayloadType = 111
	opusMaxPacket   = 4000
	defaultOpusRate = 64000
)

// opusEncoder packs 20ms Opus frames into an Ogg stream held in memory.
type opusEncoder struct {
	enc       *opus.Encoder
	ogg       *oggwriter.OggWriter
	out       *bytes.Buffer
	frameSize int
	pending   []float32
	packet    []byte
	seq       uint16
	ts        uint32
	ssrc      uint32
	done      bool
}

// NewOpus creates an Ogg/Opus encoder. Opus only accepts 8, 12, 16, 24 and
// 48 kHz mono or stereo input; other rates fail with ErrUnsupported.
func NewOpus(p Params) (Encoder, error) {
	switch p.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("%w: opus at %d Hz", ErrUnsupported, p.SampleRate)
	}
	if p.Channels == 0 {
		p.Channels = 1
	}
	if p.Channels != 1 {
		return nil, fmt.Errorf("%w: opus with %d channels", ErrUnsupported, p.Channels)
	}

	enc, err := opus.NewEncoder(p.SampleRate, p.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	bitrate := p.Bitrate
	if bitrate == 0 {
		bitrate = defaultOpusRate
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("opus bitrate %d: %w", bitrate, err)
	}

	out := &bytes.Buffer{}
	ogg, err := oggwriter.NewWith(out, uint32(p.SampleRate), uint16(p.Channels))
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}

	frameSize := p.SampleRate * opusFrameMillis / 1000
	return &opusEncoder{
		enc:       enc,
		ogg:       ogg,
		out:       out,
		frameSize: frameSize,
		pending:   make([]float32, 0, 2*frameSize),
		packet:    make([]byte, opusMaxPacket),
		ssrc:      rand.Uint32(),
	}, nil
}

func (e *opusEncoder) MimeType() string { return MimeOggOpus }

func (e *opusEncoder) Write(samples []float32) error {
	if e.done {
		return ErrFinalized
	}
	e.pending = append(e.pending, samples...)
	for len(e.pending) >= e.frameSize {
		if err := e.encodeFrame(e.pending[:e.frameSize]); err != nil {
			return err
		}
		e.pending = append(e.pending[:0], e.pending[e.frameSize:]...)
	}
	return nil
}

func (e *opusEncoder) encodeFrame(frame []float32) error {
	n, err := e.enc.EncodeFloat32(frame, e.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.ts,
			SSRC:           e.ssrc,
		},
		Payload: e.packet[:n],
	}
	if err := e.ogg.WriteRTP(pkt); err != nil {
		return fmt.Errorf("ogg page: %w", err)
	}
	e.seq++
	e.ts += opusGranuleRate * opusFrameMillis / 1000
	return nil
}

// Finalize pads the last partial frame with silence and closes the stream.
func (e *opusEncoder) Finalize() ([]byte, error) {
	if e.done {
		return nil, ErrFinalized
	}
	e.done = true
	if len(e.pending) > 0 {
		frame := make([]float32, e.frameSize)
		copy(frame, e.pending)
		e.pending = e.pending[:0]
		if err := e.encodeFrame(frame); err != nil {
			return nil, err
		}
	}
	if err := e.ogg.Close(); err != nil {
		return nil, fmt.Errorf("ogg close: %w", err)
	}
	return e.out.Bytes(), nil
}
