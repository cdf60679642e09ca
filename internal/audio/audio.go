package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Chunk is a block of mono float32 PCM delivered by the capture device.
// Chunks are shared read-only between sinks once published.
type Chunk []float32

// FramesFor returns the number of samples per channel covering d at rate.
func FramesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}
