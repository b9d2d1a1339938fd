package discord

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

var (
	errClosed    = errors.New("voice connection closed")
	errRecvEnded = errors.New("voice receive channel closed")
)

type connConfig struct {
	recv        <-chan *discordgo.Packet
	send        chan<- []byte
	speaking    func(bool) error
	disconnect  func() error
	speakerID   string
	format      audio.Format
	frameDur    time.Duration
	maxBuffered time.Duration
}

// Connection adapts a discordgo voice connection to [audio.Connection].
//
// Discord only sends packets while someone talks, so received audio goes
// into a jitter buffer and ReadFrame emits one frame per frame period,
// padding with silence when the buffer runs dry. Frames therefore keep
// flowing through silence, which the segmenter needs to close utterances.
type Connection struct {
	cfg        connConfig
	frameBytes int
	maxBytes   int
	enc        *opusEncoder

	// ssrc is the speaker's stream; zero until bound.
	ssrc atomic.Uint32

	mu       sync.Mutex
	buf      []byte
	seq      uint64
	recvDone bool
	dropped  uint64

	playMu sync.Mutex

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newConnection(cfg connConfig) (*Connection, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	c := &Connection{
		cfg:        cfg,
		frameBytes: max(audio.PCMBytes(cfg.frameDur, cfg.format.SampleRate), audio.BytesPerSample),
		maxBytes:   audio.PCMBytes(cfg.maxBuffered, cfg.format.SampleRate),
		enc:        enc,
		ticker:     time.NewTicker(cfg.frameDur),
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.recvLoop()
	return c, nil
}

// speakingUpdate binds the configured speaker to its SSRC.
func (c *Connection) speakingUpdate(userID string, ssrc uint32) {
	if userID == c.cfg.speakerID && ssrc != 0 {
		if old := c.ssrc.Swap(ssrc); old != ssrc {
			slog.Info("discord: speaker bound", "user_id", userID, "ssrc", ssrc)
		}
	}
}

// accept reports whether a packet from ssrc belongs to the speaker. Without
// a configured speaker the first stream heard is taken.
func (c *Connection) accept(ssrc uint32) bool {
	if c.cfg.speakerID == "" && c.ssrc.CompareAndSwap(0, ssrc) {
		slog.Info("discord: speaker bound", "ssrc", ssrc)
	}
	return c.ssrc.Load() == ssrc
}

func (c *Connection) recvLoop() {
	defer c.wg.Done()
	decoders := decoderSet{}
	conv := audio.FormatConverter{Target: c.cfg.format}

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.cfg.recv:
			if !ok {
				c.mu.Lock()
				c.recvDone = true
				c.mu.Unlock()
				return
			}
			if pkt == nil || !c.accept(pkt.SSRC) {
				continue
			}
			pcm, err := decoders.decode(pkt.SSRC, pkt.Opus)
			if err != nil {
				slog.Debug("discord: dropping undecodable packet", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			c.buffer(conv.Convert(pcm, opusFormat))
		}
	}
}

func (c *Connection) buffer(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, pcm...)
	if over := len(c.buf) - c.maxBytes; c.maxBytes > 0 && over > 0 {
		over += (c.frameBytes - over%c.frameBytes) % c.frameBytes
		over = min(over, len(c.buf))
		c.buf = c.buf[over:]
		c.dropped += uint64(over)
	}
}

// ReadFrame blocks until the next frame period and returns the buffered
// audio, or silence when none arrived.
func (c *Connection) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-c.done:
		return audio.Frame{}, audio.NewDeviceError("read", "discord voice", errClosed)
	case <-c.ticker.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvDone && len(c.buf) == 0 {
		return audio.Frame{}, audio.NewDeviceError("read", "discord voice", errRecvEnded)
	}
	data := make([]byte, c.frameBytes)
	n := copy(data, c.buf)
	c.buf = c.buf[n:]
	f := audio.Frame{
		Data:       data,
		SampleRate: c.cfg.format.SampleRate,
		Seq:        c.seq,
		Timestamp:  time.Duration(c.seq) * c.cfg.frameDur,
	}
	c.seq++
	return f, nil
}

// Play encodes clip as Opus and sends it into the channel. It returns once
// every packet is queued on the voice connection.
func (c *Connection) Play(ctx context.Context, clip audio.Clip) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	packets := packetize(clip.PCM, clip.SampleRate)
	if len(packets) == 0 {
		return nil
	}
	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for _, pcm := range packets {
		packet, err := c.enc.encode(pcm)
		if err != nil {
			return err
		}
		select {
		case c.cfg.send <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return audio.NewDeviceError("write", "discord voice", errClosed)
		}
	}
	return nil
}

// Dropped returns how many bytes of received audio overflowed the jitter
// buffer.
func (c *Connection) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close leaves the voice channel. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ticker.Stop()
		c.wg.Wait()
		if c.cfg.disconnect != nil {
			c.closeErr = c.cfg.disconnect()
		}
	})
	return c.closeErr
}

func (c *Connection) setSpeaking(on bool) {
	if c.cfg.speaking == nil {
		return
	}
	if err := c.cfg.speaking(on); err != nil {
		slog.Warn("discord: speaking notification", "speaking", on, "err", err)
	}
}
