package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

const (
	testRate  = 16000
	testFrame = 20 * time.Millisecond
)

type fakeVoice struct {
	recv chan *discordgo.Packet
	send chan []byte

	mu          sync.Mutex
	speaking    []bool
	disconnects int
}

func (f *fakeVoice) setSpeaking(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking = append(f.speaking, on)
	return nil
}

func (f *fakeVoice) disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

// newTestConnection wires a Connection to in-memory channels in place of a
// live voice connection.
func newTestConnection(t *testing.T, speakerID string) (*Connection, *fakeVoice) {
	t.Helper()
	fv := &fakeVoice{
		recv: make(chan *discordgo.Packet, 16),
		send: make(chan []byte, 64),
	}
	c, err := newConnection(connConfig{
		recv:        fv.recv,
		send:        fv.send,
		speaking:    fv.setSpeaking,
		disconnect:  fv.disconnect,
		speakerID:   speakerID,
		format:      audio.Mono(testRate),
		frameDur:    testFrame,
		maxBuffered: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, fv
}

func readFrame(t *testing.T, c *Connection) audio.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return f
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	tests := []struct {
		name    string
		session *discordgo.Session
		guild   string
		channel string
		rate    int
		wantErr bool
	}{
		{"valid", s, "g", "c", testRate, false},
		{"missing session", nil, "g", "c", testRate, true},
		{"missing channel", s, "g", "", testRate, true},
		{"zero rate", s, "g", "c", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tc.session, tc.guild, tc.channel, tc.rate, testFrame, WithSpeaker("u1"))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && p.speakerID != "u1" {
				t.Errorf("speakerID = %q", p.speakerID)
			}
		})
	}
}

func TestConnection_FirstSpeakerWins(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, "")
	if !c.accept(100) {
		t.Fatal("first stream rejected")
	}
	if c.accept(200) {
		t.Error("second stream accepted")
	}
	if !c.accept(100) {
		t.Error("bound stream rejected on repeat")
	}
}

func TestConnection_ConfiguredSpeaker(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, "u1")
	if c.accept(9) {
		t.Fatal("stream accepted before the speaker was identified")
	}
	c.speakingUpdate("u2", 7)
	if c.accept(7) {
		t.Error("other user's stream accepted")
	}
	c.speakingUpdate("u1", 9)
	if !c.accept(9) {
		t.Error("speaker's stream rejected")
	}
}

func TestConnection_SilenceWhenIdle(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, "")
	want := audio.PCMBytes(testFrame, testRate)
	for i := range 3 {
		f := readFrame(t, c)
		if len(f.Data) != want || f.SampleRate != testRate {
			t.Fatalf("frame %d: %d bytes at %d Hz", i, len(f.Data), f.SampleRate)
		}
		if f.Seq != uint64(i) || f.Timestamp != time.Duration(i)*testFrame {
			t.Errorf("frame %d: seq %d ts %v", i, f.Seq, f.Timestamp)
		}
		if audio.RMS(f.Data) != 0 {
			t.Errorf("frame %d is not silent", i)
		}
	}
}

func TestConnection_BufferedAudio(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, "")
	frameBytes := audio.PCMBytes(testFrame, testRate)
	pcm := make([]byte, frameBytes+frameBytes/2)
	for i := range pcm {
		pcm[i] = 0x40
	}
	c.buffer(pcm)

	first := readFrame(t, c)
	if first.Data[len(first.Data)-1] != 0x40 {
		t.Error("first frame not filled from the buffer")
	}
	second := readFrame(t, c)
	if second.Data[0] != 0x40 || second.Data[len(second.Data)-1] != 0 {
		t.Error("partial frame should be padded with silence")
	}
}

func TestConnection_JitterBufferOverflow(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, "")
	frameBytes := audio.PCMBytes(testFrame, testRate)
	c.buffer(make([]byte, 7*frameBytes))
	if got, want := c.Dropped(), uint64(2*frameBytes); got != want {
		t.Errorf("Dropped = %d, want %d", got, want)
	}
}

func TestConnection_ReceiveEnded(t *testing.T) {
	t.Parallel()

	c, fv := newTestConnection(t, "")
	close(fv.recv)

	deadline := time.Now().Add(time.Second)
	for {
		_, err := c.ReadFrame(context.Background())
		var devErr *audio.DeviceError
		if errors.As(err, &devErr) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ReadFrame = %v, want DeviceError", err)
		}
	}
}

func TestConnection_Play(t *testing.T) {
	t.Parallel()

	c, fv := newTestConnection(t, "")
	clip := audio.Clip{ID: 1, PCM: make([]byte, audio.PCMBytes(90*time.Millisecond, testRate)), SampleRate: testRate}
	if err := c.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if n := len(fv.send); n != 5 {
		t.Errorf("sent %d packets, want 5 (90ms rounded up to 20ms packets)", n)
	}
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if len(fv.speaking) != 2 || !fv.speaking[0] || fv.speaking[1] {
		t.Errorf("speaking = %v, want [true false]", fv.speaking)
	}
}

func TestConnection_PlayAfterClose(t *testing.T) {
	t.Parallel()

	fv := &fakeVoice{recv: make(chan *discordgo.Packet), send: make(chan []byte)}
	c, err := newConnection(connConfig{
		recv: fv.recv, send: fv.send, disconnect: fv.disconnect,
		format: audio.Mono(testRate), frameDur: testFrame,
	})
	if err != nil {
		t.Fatalf("newConnection: %v", err)
	}
	_ = c.Close()

	clip := audio.Clip{PCM: make([]byte, 640), SampleRate: testRate}
	var devErr *audio.DeviceError
	if err := c.Play(context.Background(), clip); !errors.As(err, &devErr) {
		t.Errorf("Play after Close = %v, want DeviceError", err)
	}
	if _, err := c.ReadFrame(context.Background()); !errors.As(err, &devErr) {
		t.Errorf("ReadFrame after Close = %v, want DeviceError", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	t.Parallel()

	c, fv := newTestConnection(t, "")
	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() { _ = c.Close() })
	}
	wg.Wait()
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if fv.disconnects != 1 {
		t.Errorf("disconnect called %d times, want 1", fv.disconnects)
	}
}

func TestPacketize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dur  time.Duration
		want int
	}{
		{"empty", 0, 0},
		{"exact", 40 * time.Millisecond, 2},
		{"padded", 50 * time.Millisecond, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := packetize(make([]byte, audio.PCMBytes(tc.dur, testRate)), testRate)
			if len(got) != tc.want {
				t.Fatalf("packets = %d, want %d", len(got), tc.want)
			}
			for i, p := range got {
				if len(p) != opusFrameBytes {
					t.Errorf("packet %d: %d bytes", i, len(p))
				}
			}
		})
	}
}
