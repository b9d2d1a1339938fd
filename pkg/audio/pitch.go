package audio

import (
	"math"
)

// pitchWindow is the overlap-add window length used by [PitchShift].
const pitchWindow = 40 // ms

// PitchShift raises (positive) or lowers (negative) the pitch of mono 16-bit
// PCM by the given number of semitones while keeping the duration close to
// the original. It time-stretches with a Hann-windowed overlap-add and then
// resamples by the pitch ratio. A zero shift returns pcm unchanged.
func PitchShift(pcm []byte, sampleRate int, semitones float64) []byte {
	if semitones == 0 || sampleRate <= 0 || len(pcm) < 2*BytesPerSample {
		return pcm
	}
	ratio := math.Pow(2, semitones/12)

	in := make([]float64, len(pcm)/BytesPerSample)
	for i := range in {
		in[i] = float64(sampleAt(pcm, i))
	}

	stretched := stretch(in, ratio, sampleRate*pitchWindow/1000)
	shifted := interpolate(stretched, len(in))

	out := make([]byte, len(shifted)*BytesPerSample)
	for i, v := range shifted {
		putSample(out, i, clamp16(int32(math.Round(v))))
	}
	return out
}

// stretch lengthens x by factor using overlap-add with a Hann window of n
// samples. The synthesis hop is fixed at n/2; the analysis hop is n/2/factor.
func stretch(x []float64, factor float64, n int) []float64 {
	if n < 4 {
		n = 4
	}
	if len(x) < n {
		return x
	}
	synHop := n / 2
	anaHop := float64(synHop) / factor

	outLen := int(float64(len(x))*factor) + n
	out := make([]float64, outLen)
	norm := make([]float64, outLen)

	win := make([]float64, n)
	for i := range win {
		win[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}

	written := 0
	for k := 0; ; k++ {
		src := int(float64(k) * anaHop)
		dst := k * synHop
		if src+n > len(x) || dst+n > outLen {
			break
		}
		for i := range n {
			out[dst+i] += x[src+i] * win[i]
			norm[dst+i] += win[i]
		}
		written = dst + n
	}
	out = out[:written]

	for i := range out {
		if norm[i] > 1e-6 {
			out[i] /= norm[i]
		}
	}
	return out
}

// interpolate linearly resamples x to exactly n samples.
func interpolate(x []float64, n int) []float64 {
	if n <= 0 || len(x) == 0 {
		return nil
	}
	out := make([]float64, n)
	step := float64(len(x)-1) / float64(max(n-1, 1))
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(x)-1 {
			out[i] = x[len(x)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = x[idx] + (x[idx+1]-x[idx])*frac
	}
	return out
}
