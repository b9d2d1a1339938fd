package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker gates the relay controls.
type PermissionChecker struct {
	role string
}

// NewPermissionChecker admits holders of role. With an empty role, members
// with Manage Server or Administrator are admitted instead.
func NewPermissionChecker(role string) *PermissionChecker {
	return &PermissionChecker{role: role}
}

// IsOperator reports whether the author of i may control the relay. Direct
// messages carry no member and are always refused.
func (p *PermissionChecker) IsOperator(i *discordgo.InteractionCreate) bool {
	m := i.Member
	switch {
	case m == nil:
		return false
	case p.role != "":
		return slices.Contains(m.Roles, p.role)
	default:
		return m.Permissions&(discordgo.PermissionManageServer|discordgo.PermissionAdministrator) != 0
	}
}
