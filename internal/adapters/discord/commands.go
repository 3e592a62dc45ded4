package discord

import "github.com/bwmarrin/discordgo"

var (
	adminOnly  = int64(discordgo.PermissionManageGuild)
	noDM       = false
	minMinutes = 1.0
)

func queueNameOpt(desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "name",
		Description: desc,
		Required:    true,
		MaxLength:   100,
	}
}

// Commands arma las definiciones; maxMinutes viene de config.
func Commands(maxMinutes int) []*discordgo.ApplicationCommand {
	maxMin := float64(maxMinutes)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "queue",
			Description:              "Administrar colas LFG (admins)",
			DefaultMemberPermissions: &adminOnly,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "create", Description: "Crear una cola (y su rol)",
					Options: []*discordgo.ApplicationCommandOption{queueNameOpt("Nombre de la cola")},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "delete", Description: "Borrar una cola (pide confirmación)",
					Options: []*discordgo.ApplicationCommandOption{queueNameOpt("Cola a borrar")},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "Ver las colas del servidor"},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "sethome", Description: "Canal donde van los avisos de la cola",
					Options: []*discordgo.ApplicationCommandOption{
						queueNameOpt("Cola"),
						{
							Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Canal (default: este)",
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "settime", Description: "Duración por defecto (minutos)",
					Options: []*discordgo.ApplicationCommandOption{{
						Type: discordgo.ApplicationCommandOptionInteger, Name: "minutes", Description: "Minutos",
						Required: true, MinValue: &minMinutes, MaxValue: maxMin,
					}},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "kick", Description: "Sacar a alguien de una cola",
					Options: []*discordgo.ApplicationCommandOption{
						queueNameOpt("Cola"),
						{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "Miembro", Required: true},
					},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "attention", Description: "Roles que no se pudieron sincronizar"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "settings", Description: "Ver configuración"},
			},
		},
		{
			Name:         "lfg",
			Description:  "Buscar grupo",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "join", Description: "Unirte (o renovar) a una cola",
					Options: []*discordgo.ApplicationCommandOption{
						queueNameOpt("Cola"),
						{
							Type: discordgo.ApplicationCommandOptionInteger, Name: "minutes", Description: "Cuánto tiempo (default del servidor)",
							MinValue: &minMinutes, MaxValue: maxMin,
						},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "leave", Description: "Salir de una cola",
					Options: []*discordgo.ApplicationCommandOption{queueNameOpt("Cola")},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "who", Description: "Quién está en la cola",
					Options: []*discordgo.ApplicationCommandOption{queueNameOpt("Cola")},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "challenge", Description: "Desafiar a alguien de la cola",
					Options: []*discordgo.ApplicationCommandOption{
						queueNameOpt("Cola"),
						{Type: discordgo.ApplicationCommandOptionUser, Name: "member", Description: "A quién", Required: true},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "history", Description: "Actividad reciente de la cola",
					Options: []*discordgo.ApplicationCommandOption{queueNameOpt("Cola")},
				},
			},
		},
	}
}
