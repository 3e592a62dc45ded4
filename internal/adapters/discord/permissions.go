package discord

import "github.com/bwmarrin/discordgo"

const adminPerms = discordgo.PermissionAdministrator | discordgo.PermissionManageGuild

func (r *Router) requireAdminOrRoles(s *discordgo.Session, ic *discordgo.InteractionCreate) bool {
	if ic.Member == nil || ic.Member.User == nil {
		ReplyEphemeral(s, ic, "🔒 Sólo dentro de un servidor.")
		return false
	}

	// Discord ya calcula los permisos del miembro en el canal
	if ic.Member.Permissions&adminPerms != 0 {
		return true
	}

	ownerID := ""
	if g, _ := s.State.Guild(ic.GuildID); g != nil {
		ownerID = g.OwnerID
	}
	var roles []*discordgo.Role
	if rs, err := s.GuildRoles(ic.GuildID); err == nil {
		roles = rs
	}
	if isAdmin(ic.Member, roles, ownerID, r.adminRoleIDs) {
		return true
	}

	ReplyEphemeral(s, ic, "🔒 No tienes permisos para esta acción.")
	return false
}

// isAdmin: owner, rol con Administrator / Manage Guild, o uno de los roles configurados.
func isAdmin(m *discordgo.Member, guildRoles []*discordgo.Role, ownerID string, adminRoleIDs []string) bool {
	if m == nil || m.User == nil {
		return false
	}
	if ownerID != "" && m.User.ID == ownerID {
		return true
	}

	has := make(map[string]struct{}, len(m.Roles))
	for _, rid := range m.Roles {
		has[rid] = struct{}{}
	}

	var perms int64
	for _, ro := range guildRoles {
		if _, ok := has[ro.ID]; ok {
			perms |= ro.Permissions
		}
	}
	if perms&adminPerms != 0 {
		return true
	}

	for _, want := range adminRoleIDs {
		if _, ok := has[want]; ok {
			return true
		}
	}
	return false
}
