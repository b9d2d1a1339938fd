package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// send delivers one interaction response. Failures are logged only.
func send(r Responder, i *discordgo.InteractionCreate, kind discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	if err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: kind, Data: data}); err != nil {
		slog.Warn("discord: respond failed", "user", interactionUserID(i), "err", err)
	}
}

// RespondEphemeral replies with text only the invoking user sees.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	send(r, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// RespondEmbed replies with an ephemeral embed and optional component rows.
func RespondEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, rows ...discordgo.MessageComponent) {
	send(r, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: rows,
		Flags:      discordgo.MessageFlagsEphemeral,
	})
}

// UpdateEmbed rewrites the message carrying the clicked button.
func UpdateEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, rows ...discordgo.MessageComponent) {
	send(r, i, discordgo.InteractionResponseUpdateMessage, &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: rows,
	})
}
