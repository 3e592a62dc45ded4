package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

type messageAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelNotifier manda avisos (expiry, desafíos) a un canal de texto.
type ChannelNotifier struct{ api messageAPI }

func NewChannelNotifier(api messageAPI) *ChannelNotifier { return &ChannelNotifier{api: api} }

func (n *ChannelNotifier) Notify(ctx context.Context, channelID, content string) error {
	_, err := n.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		// sólo menciones a usuarios: nunca @everyone ni roles desde un aviso
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	return err
}
