package audio

import (
	"math"
	"time"
)

// Int16s decodes little-endian 16-bit PCM into samples. A trailing odd byte
// is ignored.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = sampleAt(pcm, i)
	}
	return out
}

// FromInt16s encodes samples as little-endian 16-bit PCM.
func FromInt16s(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

// Float32s decodes 16-bit PCM into samples normalised to [-1, 1).
func Float32s(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768.0
	}
	return out
}

// FromFloat32s encodes normalised samples as 16-bit PCM, clipping values
// outside [-1, 1].
func FromFloat32s(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		putSample(out, i, clamp16(int32(math.Round(float64(s)*32767))))
	}
	return out
}

// RMS returns the root mean square of 16-bit PCM normalised to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Chunker re-slices an arbitrary stream of mono PCM into fixed-size
// [Frame] values with increasing sequence numbers and timestamps. Device
// adapters use it to turn driver buffers into pipeline frames.
//
// A Chunker is not safe for concurrent use.
type Chunker struct {
	rate       int
	frameBytes int
	buf        []byte
	seq        uint64
}

// NewChunker returns a Chunker producing frames of frameDur at sampleRate.
func NewChunker(sampleRate int, frameDur time.Duration) *Chunker {
	return &Chunker{
		rate:       sampleRate,
		frameBytes: max(PCMBytes(frameDur, sampleRate), BytesPerSample),
	}
}

// FrameBytes returns the size of each emitted frame in bytes.
func (c *Chunker) FrameBytes() int { return c.frameBytes }

// Write appends pcm and returns every complete frame now available. Partial
// data is kept for the next call.
func (c *Chunker) Write(pcm []byte) []Frame {
	c.buf = append(c.buf, pcm...)
	var frames []Frame
	for len(c.buf) >= c.frameBytes {
		data := make([]byte, c.frameBytes)
		copy(data, c.buf[:c.frameBytes])
		c.buf = c.buf[c.frameBytes:]
		frames = append(frames, Frame{
			Data:       data,
			SampleRate: c.rate,
			Seq:        c.seq,
			Timestamp:  time.Duration(c.seq) * PCMDuration(c.frameBytes, c.rate),
		})
		c.seq++
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return frames
}

// Reset discards buffered data. Sequence numbers keep increasing.
func (c *Chunker) Reset() { c.buf = nil }
