// Package mock provides a recording [discord.Responder] for tests.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder records every interaction reply. Set Err to make replies fail.
type Responder struct {
	Err error

	mu      sync.Mutex
	replies []*discordgo.InteractionResponse
}

// InteractionRespond records resp and returns Err.
func (r *Responder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.mu.Lock()
	r.replies = append(r.replies, resp)
	r.mu.Unlock()
	return r.Err
}

// Responses returns the recorded replies in order.
func (r *Responder) Responses() []*discordgo.InteractionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), r.replies...)
}

// Last returns the newest reply, or nil.
func (r *Responder) Last() *discordgo.InteractionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.replies); n > 0 {
		return r.replies[n-1]
	}
	return nil
}
