package wavfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

const bitDepth = 16

// Encode writes 16-bit little-endian PCM to w as a RIFF/WAV stream.
func Encode(w io.WriteSeeker, pcm []byte, format audio.Format) error {
	if len(pcm)%audio.BytesPerSample != 0 {
		return errors.New("wavfile: pcm payload not aligned")
	}
	channels := max(format.Channels, 1)
	samples := audio.Int16s(pcm)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: format.SampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	enc := wav.NewEncoder(w, format.SampleRate, bitDepth, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: close encoder: %w", err)
	}
	return nil
}

// EncodeBytes returns pcm wrapped in an in-memory WAV container.
func EncodeBytes(pcm []byte, format audio.Format) ([]byte, error) {
	var ws writeSeeker
	if err := Encode(&ws, pcm, format); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WriteFile writes pcm to path as a WAV file.
func WriteFile(path string, pcm []byte, format audio.Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", path, err)
	}
	if err := Encode(f, pcm, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Decode reads a 16-bit PCM WAV stream and returns its samples as
// little-endian bytes together with the stream format.
func Decode(r io.ReadSeeker) ([]byte, audio.Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, audio.Format{}, errors.New("wavfile: not a valid WAV stream")
	}
	if dec.BitDepth != bitDepth {
		return nil, audio.Format{}, fmt.Errorf("wavfile: unsupported bit depth %d, want %d", dec.BitDepth, bitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: read samples: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	format := audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return audio.FromInt16s(samples), format, nil
}

// DecodeBytes is [Decode] over an in-memory WAV payload.
func DecodeBytes(data []byte) ([]byte, audio.Format, error) {
	return Decode(bytes.NewReader(data))
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) ([]byte, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("wavfile: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("wavfile: negative seek position")
	}
	w.pos = int(abs)
	return abs, nil
}
