// Package discord provides an [audio.Platform] backed by a Discord voice
// channel via bwmarrin/discordgo.
//
// The platform needs an open *discordgo.Session, owned by the bot layer.
// [Platform.Connect] joins the configured channel and returns a connection
// that reads one speaker's Opus stream as mono PCM frames and plays clips
// back into the channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Option configures a [Platform].
type Option func(*Platform)

// WithSpeaker restricts input to the Discord user with this ID. Without it
// the first user heard in the channel becomes the speaker.
func WithSpeaker(userID string) Option {
	return func(p *Platform) { p.speakerID = userID }
}

// WithJitterBuffer bounds how much received audio may wait for ReadFrame
// before the oldest is dropped. Default: 1s.
func WithJitterBuffer(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.maxBuffered = d
		}
	}
}

// Platform joins one voice channel. It is safe for concurrent use.
type Platform struct {
	session     *discordgo.Session
	guildID     string
	channelID   string
	speakerID   string
	sampleRate  int
	frameDur    time.Duration
	maxBuffered time.Duration
}

// New returns a platform for channelID in guildID. Frames are delivered as
// mono PCM at sampleRate, frameDur long each.
func New(session *discordgo.Session, guildID, channelID string, sampleRate int, frameDur time.Duration, opts ...Option) (*Platform, error) {
	var errs []error
	if session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if guildID == "" || channelID == "" {
		errs = append(errs, errors.New("guild and channel IDs are required"))
	}
	if sampleRate <= 0 || frameDur <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame format %d Hz / %s", sampleRate, frameDur))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	p := &Platform{
		session:     session,
		guildID:     guildID,
		channelID:   channelID,
		sampleRate:  sampleRate,
		frameDur:    frameDur,
		maxBuffered: time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect joins the voice channel unmuted and undeafened. ctx bounds the
// join only; the connection lives until Close.
func (p *Platform) Connect(ctx context.Context) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, p.channelID, false, false)
	if err != nil {
		return nil, audio.NewDeviceError("open", "discord voice", fmt.Errorf("join channel %q: %w", p.channelID, err))
	}

	c, err := newConnection(connConfig{
		recv:        vc.OpusRecv,
		send:        vc.OpusSend,
		speaking:    vc.Speaking,
		disconnect:  vc.Disconnect,
		speakerID:   p.speakerID,
		format:      audio.Mono(p.sampleRate),
		frameDur:    p.frameDur,
		maxBuffered: p.maxBuffered,
	})
	if err != nil {
		_ = vc.Disconnect()
		return nil, audio.NewDeviceError("open", "discord voice", err)
	}
	if p.speakerID != "" {
		vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
			c.speakingUpdate(vs.UserID, uint32(vs.SSRC))
		})
	}
	return c, nil
}
