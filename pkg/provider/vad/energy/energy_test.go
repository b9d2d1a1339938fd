package energy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
	"github.com/MrWong99/voxrelay/pkg/provider/vad/energy"
)

var cfg = vad.Config{SampleRate: 16000, FrameSizeMs: 30}

// tone returns one 30 ms frame of a 440 Hz sine at the given peak amplitude.
func tone(amp float64) []byte {
	samples := make([]int16, 480)
	for i := range samples {
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.FromInt16s(samples)
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()
	eng := energy.New()
	for _, c := range []vad.Config{
		{SampleRate: 0, FrameSizeMs: 30},
		{SampleRate: 16000, FrameSizeMs: 0},
	} {
		if _, err := eng.NewSession(c); err == nil {
			t.Errorf("NewSession(%+v) error = nil, want error", c)
		}
	}
}

func TestScore_FrameSize(t *testing.T) {
	t.Parallel()
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sess.Score(make([]byte, 100))
	if !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("Score error = %v, want ErrFrameSize", err)
	}
}

func TestScore_SilenceVersusSpeech(t *testing.T) {
	t.Parallel()
	sess, err := energy.New(energy.WithFixedFloor()).NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}

	silent, err := sess.Score(make([]byte, 960))
	if err != nil {
		t.Fatal(err)
	}
	if silent > 0.01 {
		t.Errorf("silence score = %v, want close to 0", silent)
	}

	loud, err := sess.Score(tone(0.3))
	if err != nil {
		t.Fatal(err)
	}
	if loud < 0.99 {
		t.Errorf("tone score = %v, want close to 1", loud)
	}
}

func TestScore_NoiseFloorAdapts(t *testing.T) {
	t.Parallel()
	sess, err := energy.New(energy.WithInitialFloorDB(-90)).NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s := sess.(*energy.Session)

	// Steady low hum: the first frame scores high against a -90 dB floor.
	hum := tone(0.002)
	first, _ := s.Score(hum)
	var last float64
	for range 2000 {
		last, _ = s.Score(hum)
	}
	if last >= first {
		t.Errorf("score after adaptation = %v, want below initial %v", last, first)
	}
	if s.NoiseFloorDB() <= -90 {
		t.Errorf("noise floor = %v, want above -90", s.NoiseFloorDB())
	}

	s.Reset()
	if s.NoiseFloorDB() != -90 {
		t.Errorf("noise floor after Reset = %v, want -90", s.NoiseFloorDB())
	}
}

func TestScore_AfterClose(t *testing.T) {
	t.Parallel()
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.Score(make([]byte, 960)); err == nil {
		t.Error("Score after Close should fail")
	}
}
