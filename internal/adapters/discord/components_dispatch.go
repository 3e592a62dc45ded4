package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

func (r *Router) handleMessageComponent(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	data := ic.MessageComponentData()
	log := r.log.With("custom_id", data.CustomID, "guild", ic.GuildID, "user", userID(ic))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("[discord] panic in component", "panic", rec)
			ReplyEphemeral(s, ic, "❌ Ocurrió un error inesperado.")
		}
	}()
	defer step(log, "component")()

	_ = DeferEphemeral(s, ic)

	key, queue, ok := parseCustomID(data.CustomID)
	if !ok || ic.GuildID == "" {
		ReplyEphemeral(s, ic, "⚠️ Botón desconocido.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	var (
		msg string
		err error
	)
	switch key {
	case ComponentJoin:
		msg, err = r.queue.Join(ctx, callerOf(ic), queue, 0)
	case ComponentLeave:
		msg, err = r.queue.Leave(ctx, callerOf(ic), queue)
	}
	r.reply(s, ic, msg, err)
}
