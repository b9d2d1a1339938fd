package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of interleaved 16-bit
// PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Mono returns the mono format at rate.
func Mono(rate int) Format { return Format{SampleRate: rate, Channels: 1} }

// FormatConverter converts PCM buffers to a fixed target format. The first
// mismatch and the first misaligned buffer are logged once each.
// Create one per stream; it is not meant to be shared across goroutines.
type FormatConverter struct {
	Target Format

	mismatch sync.Once
	corrupt  sync.Once
}

// Convert returns pcm converted from src to the target format. A buffer
// already in the target format is returned as is. Misaligned buffers (odd
// byte count) yield nil.
func (c *FormatConverter) Convert(pcm []byte, src Format) []byte {
	if len(pcm)%BytesPerSample != 0 {
		c.corrupt.Do(func() {
			slog.Warn("audio: dropping misaligned pcm buffer", "bytes", len(pcm), "format", src.String())
		})
		return nil
	}
	if src == c.Target {
		return pcm
	}
	c.mismatch.Do(func() {
		slog.Debug("audio: converting pcm", "from", src.String(), "to", c.Target.String())
	})
	return Convert(pcm, src, c.Target)
}

// Convert resamples and channel-converts pcm from src to dst. Mono and
// stereo are supported; other channel counts are resampled only.
// Resampling happens before the channel conversion so a stereo source bound
// for mono is only resampled once per frame.
func Convert(pcm []byte, src, dst Format) []byte {
	out := pcm
	if src.SampleRate != dst.SampleRate {
		out = resample(out, src.Channels, src.SampleRate, dst.SampleRate)
	}
	switch {
	case src.Channels == 1 && dst.Channels == 2:
		out = MonoToStereo(out)
	case src.Channels == 2 && dst.Channels == 1:
		out = StereoToMono(out)
	}
	return out
}

// MonoToStereo copies every mono sample into both channels.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono averages each left/right pair.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		sum := int32(sampleAt(pcm, 2*i)) + int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, clamp16(sum/2))
	}
	return out
}

// ResampleMono16 linearly resamples mono 16-bit PCM from srcRate to dstRate.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 linearly resamples interleaved stereo 16-bit PCM.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

// resample performs per-channel linear interpolation over interleaved PCM.
// Invalid rates or equal rates return pcm unchanged.
func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			a := float64(sampleAt(pcm, idx*channels+ch))
			b := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(a+(b-a)*frac))
		}
	}
	return out
}

// sampleAt decodes the i-th little-endian int16 sample.
func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

// putSample encodes s as the i-th little-endian int16 sample.
func putSample(pcm []byte, i int, s int16) {
	pcm[2*i] = byte(s)
	pcm[2*i+1] = byte(uint16(s) >> 8)
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
