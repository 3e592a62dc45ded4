package discord

import (
	"github.com/bwmarrin/discordgo"
)

// queueButtons arma la fila Join/Leave que va debajo de /lfg who.
// Si el nombre no entra en el custom_id, no hay botones.
func queueButtons(queue string) []discordgo.MessageComponent {
	joinID, ok1 := ComponentJoin.ID(queue)
	leaveID, ok2 := ComponentLeave.ID(queue)
	if !ok1 || !ok2 {
		return nil
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Style:    discordgo.PrimaryButton,
					Label:    "La llevo",
					CustomID: joinID,
					Emoji:    &discordgo.ComponentEmoji{Name: "🌕"},
				},
				discordgo.Button{
					Style:    discordgo.SecondaryButton,
					Label:    "Chau",
					CustomID: leaveID,
					Emoji:    &discordgo.ComponentEmoji{Name: "👋"},
				},
			},
		},
	}
}
