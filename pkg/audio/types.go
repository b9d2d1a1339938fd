package audio

import (
	"time"
)

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// Frame is a fixed-duration chunk of mono 16-bit little-endian PCM as
// delivered by a [Connection]. Frames are immutable once produced.
type Frame struct {
	// Data holds the PCM samples.
	Data []byte

	// SampleRate is the number of samples per second (e.g. 16000).
	SampleRate int

	// Seq is the position of the frame in its source stream, starting at 0.
	Seq uint64

	// Timestamp is the offset of the first sample from the start of the stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate)
}

// Segment is a bounded capture believed to contain one utterance: pre-roll,
// the detected speech and its trailing silence. A Segment is owned by exactly
// one pipeline stage at a time and must not be modified after hand-off.
type Segment struct {
	// ID increases strictly across the segments of one run.
	ID uint64

	// Start is the timestamp of the first frame in the segment (including
	// pre-roll).
	Start time.Duration

	// Onset is the timestamp of the frame that triggered speech detection.
	Onset time.Duration

	// SampleRate of every frame in Frames.
	SampleRate int

	// Frames in capture order.
	Frames []Frame
}

// Duration returns the summed length of all frames.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// PCM concatenates the frame data into a newly allocated buffer.
func (s Segment) PCM() []byte {
	n := 0
	for _, f := range s.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range s.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Transcript is the text recognised for one [Segment].
type Transcript struct {
	// ID equals the originating segment ID.
	ID uint64

	// SegmentID is the originating segment.
	SegmentID uint64

	// Text is the final text after vocabulary correction.
	Text string

	// RawText is the text as returned by the STT engine.
	RawText string

	// Created is the wall-clock time the transcript was produced.
	Created time.Time
}

// Clip is synthesised speech for one [Transcript]. Ownership moves from the
// TTS worker to the playback controller and finally to the output device.
type Clip struct {
	// ID equals the originating transcript ID.
	ID uint64

	// TranscriptID is the originating transcript.
	TranscriptID uint64

	// Text is the transcript text shown while the clip plays.
	Text string

	// RawText is the transcript text before vocabulary correction.
	RawText string

	// PCM is mono 16-bit little-endian audio.
	PCM []byte

	// SampleRate of PCM.
	SampleRate int

	// Created is the wall-clock time synthesis finished.
	Created time.Time
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return PCMDuration(len(c.PCM), c.SampleRate)
}

// PCMDuration returns the length of n bytes of mono 16-bit PCM at sampleRate.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// PCMBytes returns the number of bytes of mono 16-bit PCM covering d at
// sampleRate, rounded down to a whole sample.
func PCMBytes(d time.Duration, sampleRate int) int {
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return samples * BytesPerSample
}
