package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/internal/pipeline"
	"github.com/MrWong99/voxrelay/internal/worker"
)

// Embed sidebar colours.
const (
	embedColorGreen  = 0x2ECC71
	embedColorYellow = 0xF1C40F
)

// toggleButtonID is the custom_id of the pause/resume button on the status
// embed.
const toggleButtonID = "voice_toggle"

// Controller is the relay surface the /voice commands drive.
// [*pipeline.Pipeline] satisfies it.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
	Stats() pipeline.Stats
}

var _ Controller = (*pipeline.Pipeline)(nil)

// VoiceCommands implements /voice pause, /voice resume and /voice status.
// Every subcommand and the toggle button require operator permission.
type VoiceCommands struct {
	ctrl  Controller
	perms *PermissionChecker
}

// NewVoiceCommands creates the /voice command group.
func NewVoiceCommands(ctrl Controller, perms *PermissionChecker) *VoiceCommands {
	return &VoiceCommands{ctrl: ctrl, perms: perms}
}

// Register adds the command and button handlers to router.
func (vc *VoiceCommands) Register(router *CommandRouter) {
	router.AddCommand(vc.Definition(), Subcommands{
		"pause":  vc.operatorOnly(vc.handlePause),
		"resume": vc.operatorOnly(vc.handleResume),
		"status": vc.operatorOnly(vc.handleStatus),
	})
	router.AddButton(toggleButtonID, vc.operatorOnly(vc.handleToggle))
}

// Definition returns the /voice application command.
func (vc *VoiceCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Control the voice relay",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "pause",
				Description: "Stop relaying and drop everything queued",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "resume",
				Description: "Start relaying again",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show queue depths and counters",
			},
		},
	}
}

func (vc *VoiceCommands) operatorOnly(h HandlerFunc) HandlerFunc {
	return func(r Responder, i *discordgo.InteractionCreate) {
		if !vc.perms.IsOperator(i) {
			RespondEphemeral(r, i, "You are not allowed to control the relay.")
			return
		}
		h(r, i)
	}
}

func (vc *VoiceCommands) handlePause(r Responder, i *discordgo.InteractionCreate) {
	vc.ctrl.Pause()
	slog.Info("relay paused from discord", "user", interactionUserID(i))
	RespondEphemeral(r, i, "Relay paused.")
}

func (vc *VoiceCommands) handleResume(r Responder, i *discordgo.InteractionCreate) {
	vc.ctrl.Resume()
	slog.Info("relay resumed from discord", "user", interactionUserID(i))
	RespondEphemeral(r, i, "Relay resumed.")
}

func (vc *VoiceCommands) handleStatus(r Responder, i *discordgo.InteractionCreate) {
	RespondEmbed(r, i, buildStatusEmbed(vc.ctrl.Stats()), toggleRow(vc.ctrl.Paused()))
}

func (vc *VoiceCommands) handleToggle(r Responder, i *discordgo.InteractionCreate) {
	if vc.ctrl.Paused() {
		vc.ctrl.Resume()
	} else {
		vc.ctrl.Pause()
	}
	slog.Info("relay toggled from discord", "user", interactionUserID(i), "paused", vc.ctrl.Paused())
	UpdateEmbed(r, i, buildStatusEmbed(vc.ctrl.Stats()), toggleRow(vc.ctrl.Paused()))
}

// buildStatusEmbed renders a stats snapshot.
func buildStatusEmbed(s pipeline.Stats) *discordgo.MessageEmbed {
	state := "relaying"
	color := embedColorGreen
	switch {
	case !s.Running:
		state = "stopped"
		color = embedColorYellow
	case s.Paused:
		state = "paused"
		color = embedColorYellow
	}
	speaker := "silent"
	if s.SpeakerActive {
		speaker = "speaking"
	}

	return &discordgo.MessageEmbed{
		Title: "Voice relay",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "State", Value: state, Inline: true},
			{Name: "Playback", Value: s.State, Inline: true},
			{Name: "Speaker", Value: speaker, Inline: true},
			{Name: "Queues", Value: fmt.Sprintf("segments %d/%d · transcripts %d/%d · clips %d/%d",
				s.SegmentQueue, s.QueueCapacity,
				s.TranscriptQueue, s.QueueCapacity,
				s.Playback.Pending, s.QueueCapacity)},
			{Name: "Recognised", Value: workerLine(s.STT), Inline: true},
			{Name: "Synthesised", Value: workerLine(s.TTS), Inline: true},
			{Name: "Played", Value: fmt.Sprintf("%d played · %d barge-ins · %d evicted",
				s.Playback.Played, s.Playback.BargeIns, s.Playback.Evicted)},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d speech onsets", s.SpeechOnsets),
		},
	}
}

func workerLine(ws worker.Stats) string {
	return fmt.Sprintf("%d done · %d empty · %d failed", ws.Done, ws.Empty, ws.Failed)
}

func toggleRow(paused bool) discordgo.ActionsRow {
	label, style := "Pause", discordgo.DangerButton
	if paused {
		label, style = "Resume", discordgo.SuccessButton
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: label, Style: style, CustomID: toggleButtonID},
	}}
}

// interactionUserID returns the author's user ID, in guilds or DMs.
func interactionUserID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
