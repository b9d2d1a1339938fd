package discord

import (
	"errors"
	"slices"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/internal/discord/mock"
)

func member(perms int64, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "user-1"},
			Roles:       roles,
			Permissions: perms,
		},
	}}
}

func TestPermissionChecker_IsOperator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{"has operator role", "role-123", member(0, "role-456", "role-123"), true},
		{"lacks operator role", "role-123", member(0, "role-456"), false},
		{"manage server does not replace role", "role-123", member(discordgo.PermissionManageServer), false},
		{"no role configured, manage server", "", member(discordgo.PermissionManageServer | discordgo.PermissionSendMessages), true},
		{"no role configured, plain member", "", member(discordgo.PermissionSendMessages, "role-1"), false},
		{"no role configured, administrator", "", member(discordgo.PermissionAdministrator), true},
		{"nil member", "role-123", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, false},
		{"nil member, no role", "", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewPermissionChecker(tt.roleID).IsOperator(tt.inter); got != tt.want {
				t.Errorf("IsOperator() = %v, want %v", got, tt.want)
			}
		})
	}
}

func commandInteraction(name, sub string) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand},
		}
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: data,
	}}
}

func componentInteraction(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: customID},
	}}
}

func TestCommandRouter_AddCommandReplaces(t *testing.T) {
	t.Parallel()
	r := NewCommandRouter()
	noop := func(Responder, *discordgo.InteractionCreate) {}
	r.AddCommand(&discordgo.ApplicationCommand{Name: "voice", Description: "old"}, Subcommands{"pause": noop, "stop": noop})
	r.AddCommand(&discordgo.ApplicationCommand{Name: "ping"}, Subcommands{"": noop})
	r.AddCommand(&discordgo.ApplicationCommand{Name: "voice", Description: "new"}, Subcommands{"pause": noop})

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 || cmds[0].Name != "ping" || cmds[1].Description != "new" {
		t.Fatalf("commands = %+v", cmds)
	}

	resp := &mock.Responder{}
	r.Handle(resp, commandInteraction("voice", "stop"))
	if last := resp.Last(); last == nil || last.Data.Content != "Unknown command." {
		t.Errorf("replaced subcommand still routed: %+v", last)
	}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()
	r := NewCommandRouter()
	var got []string
	record := func(name string) HandlerFunc {
		return func(Responder, *discordgo.InteractionCreate) { got = append(got, name) }
	}
	r.AddCommand(&discordgo.ApplicationCommand{Name: "voice"}, Subcommands{
		"pause":  record("pause"),
		"resume": record("resume"),
	})
	r.AddCommand(&discordgo.ApplicationCommand{Name: "ping"}, Subcommands{"": record("ping")})
	r.AddButton("voice_toggle", record("toggle"))

	resp := &mock.Responder{}
	r.Handle(resp, commandInteraction("voice", "resume"))
	r.Handle(resp, commandInteraction("ping", ""))
	r.Handle(resp, componentInteraction("voice_toggle"))
	r.Handle(resp, commandInteraction("voice", "pause"))
	r.Handle(resp, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})

	want := []string{"resume", "ping", "toggle", "pause"}
	if !slices.Equal(got, want) {
		t.Errorf("handled %v, want %v", got, want)
	}
	if n := len(resp.Responses()); n != 0 {
		t.Errorf("router replied on its own %d times", n)
	}
}

func TestCommandRouter_UnknownInteractions(t *testing.T) {
	t.Parallel()
	r := NewCommandRouter()
	resp := &mock.Responder{}

	r.Handle(resp, commandInteraction("voice", "explode"))
	r.Handle(resp, componentInteraction("nope"))

	replies := resp.Responses()
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	for _, res := range replies {
		if res.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
			t.Error("reply must be ephemeral")
		}
		if res.Data.Content != "Unknown command." {
			t.Errorf("reply = %q", res.Data.Content)
		}
	}
}

func TestRespond_ErrorIsSwallowed(t *testing.T) {
	t.Parallel()
	resp := &mock.Responder{Err: errors.New("token expired")}
	RespondEphemeral(resp, commandInteraction("voice", "pause"), "hi")
	if len(resp.Responses()) != 1 {
		t.Error("reply not attempted")
	}
}
