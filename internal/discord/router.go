package discord

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder sends interaction responses. [*discordgo.Session] satisfies it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var _ Responder = (*discordgo.Session)(nil)

// HandlerFunc handles one routed interaction.
type HandlerFunc func(r Responder, i *discordgo.InteractionCreate)

// Subcommands maps subcommand names to handlers. The empty name handles a
// command invoked without a subcommand.
type Subcommands map[string]HandlerFunc

// CommandRouter dispatches slash commands and button clicks. Routes are
// keyed "cmd:<name>", "cmd:<name> <sub>" and "btn:<custom_id>".
type CommandRouter struct {
	mu     sync.RWMutex
	defs   []*discordgo.ApplicationCommand
	routes map[string]HandlerFunc
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{routes: make(map[string]HandlerFunc)}
}

// AddCommand registers def and its handlers. Adding a command with an
// existing name replaces the previous definition and its routes.
func (r *CommandRouter) AddCommand(def *discordgo.ApplicationCommand, subs Subcommands) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "cmd:" + def.Name
	for key := range r.routes {
		if key == prefix || strings.HasPrefix(key, prefix+" ") {
			delete(r.routes, key)
		}
	}
	r.defs = slices.DeleteFunc(r.defs, func(d *discordgo.ApplicationCommand) bool { return d.Name == def.Name })
	r.defs = append(r.defs, def)

	for sub, h := range subs {
		key := prefix
		if sub != "" {
			key += " " + sub
		}
		r.routes[key] = h
	}
}

// AddButton registers h for clicks on buttons with customID.
func (r *CommandRouter) AddButton(customID string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes["btn:"+customID] = h
}

// ApplicationCommands returns the command definitions in registration order.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*discordgo.ApplicationCommand(nil), r.defs...)
}

// Handle dispatches i. Unknown commands and buttons get an ephemeral reply.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	key, ok := routeKey(i)
	if !ok {
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}

	r.mu.RLock()
	h := r.routes[key]
	r.mu.RUnlock()

	if h == nil {
		slog.Warn("discord: no route", "route", key)
		RespondEphemeral(resp, i, "Unknown command.")
		return
	}
	h(resp, i)
}

func routeKey(i *discordgo.InteractionCreate) (string, bool) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		key := "cmd:" + data.Name
		if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
			key += " " + data.Options[0].Name
		}
		return key, true
	case discordgo.InteractionMessageComponent:
		return "btn:" + i.MessageComponentData().CustomID, true
	}
	return "", false
}
