// Package discord is the chat surface of voxrelay: a bot session that
// carries the /voice commands and whose gateway connection the discord
// audio platform reuses for voice.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild the commands are registered in.
	GuildID string

	// OperatorRole is the role allowed to control the relay. Empty falls
	// back to the Manage Server permission.
	OperatorRole string
}

// Bot owns one gateway session. Commands added to its router are published
// to the guild by Run and withdrawn by Close.
type Bot struct {
	session *discordgo.Session
	guildID string
	router  *CommandRouter
	perms   *PermissionChecker

	mu        sync.Mutex
	published []*discordgo.ApplicationCommand
	closed    bool
}

// New opens a gateway session for cfg.
func New(_ context.Context, cfg Config) (*Bot, error) {
	var errs []error
	if cfg.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if cfg.GuildID == "" {
		errs = append(errs, errors.New("guild id is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	// Voice states are needed to see who is speaking in the channel.
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session: s,
		guildID: cfg.GuildID,
		router:  NewCommandRouter(),
		perms:   NewPermissionChecker(cfg.OperatorRole),
	}
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	return b, nil
}

// Session returns the gateway session, shared with the voice platform.
func (b *Bot) Session() *discordgo.Session { return b.session }

// GuildID returns the guild the bot serves.
func (b *Bot) GuildID() string { return b.guildID }

// Router returns the command router.
func (b *Bot) Router() *CommandRouter { return b.router }

// Permissions returns the operator check used by the commands.
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// Run publishes the routed commands and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.publish(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (b *Bot) publish() error {
	defs := b.router.ApplicationCommands()
	if len(defs) == 0 {
		return nil
	}
	out, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, defs)
	if err != nil {
		return fmt.Errorf("discord: publish commands: %w", err)
	}
	b.mu.Lock()
	b.published = out
	b.mu.Unlock()
	slog.Info("discord: commands published", "guild_id", b.guildID, "count", len(out))
	return nil
}

// Close withdraws the published commands and closes the gateway. Calls
// after the first return nil.
func (b *Bot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, c := range b.published {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.guildID, c.ID); err != nil {
			slog.Warn("discord: withdraw command", "command", c.Name, "err", err)
		}
	}
	b.published = nil
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	return nil
}
