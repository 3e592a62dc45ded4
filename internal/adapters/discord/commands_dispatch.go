// esta es la logica de InteractionApplicationCommand de discordgo
// aqui solo vamos a manejar logica de la interaccion del usuario y despachar a los servicios correspondientes
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

func (r *Router) handleSlashCommand(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	cmd := ic.ApplicationCommandData()
	sub, _ := subcmdName(ic)
	log := r.log.With("cmd", cmd.Name, "sub", sub, "guild", ic.GuildID, "user", userID(ic))
	log.Info("[discord] slash")

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("[discord] panic in slash", "panic", rec)
			ReplyEphemeral(s, ic, "❌ Ocurrió un error inesperado procesando el comando. Contacta con un administrador.")
		}
	}()
	defer step(log, "slash."+cmd.Name+"."+sub)()

	_ = DeferEphemeral(s, ic)
	if ic.GuildID == "" || ic.Member == nil {
		ReplyEphemeral(s, ic, "🔒 Sólo dentro de un servidor.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()

	switch cmd.Name {
	case "queue":
		if sub != "list" && !r.requireAdminOrRoles(s, ic) {
			return
		}
		r.handleQueue(ctx, s, ic, sub)
	case "lfg":
		r.handleLFG(ctx, s, ic, sub)
	default:
		ReplyEphemeral(s, ic, "🤷 Comando desconocido.")
	}
}

func (r *Router) handleQueue(ctx context.Context, s *discordgo.Session, ic *discordgo.InteractionCreate, sub string) {
	name, _ := optStr(ic, "name")

	var (
		msg string
		err error
	)
	switch sub {
	case "create":
		msg, err = r.queue.Create(ctx, ic.GuildID, name)

	case "delete":
		// la confirmación corre fuera del timeout del comando
		go r.confirmDelete(s, ic, name)
		return

	case "list":
		msg, err = r.queue.List(ctx, ic.GuildID)

	case "sethome":
		channelID, ok := optID(ic, "channel")
		if !ok {
			channelID = ic.ChannelID
		}
		msg, err = r.queue.SetHome(ctx, ic.GuildID, name, channelID)

	case "settime":
		mins, _ := optInt(ic, "minutes")
		msg, err = r.queue.SetTime(ctx, ic.GuildID, mins)

	case "kick":
		memberID, ok := optID(ic, "member")
		if !ok {
			ReplyEphemeral(s, ic, "⚠️ Falta el miembro.")
			return
		}
		msg, err = r.queue.Kick(ctx, ic.GuildID, name, memberID)

	case "attention":
		msg, err = r.queue.Attention(ctx, ic.GuildID)

	case "settings":
		msg, err = r.settings.Show(ctx, ic.GuildID)

	default:
		msg = "Usa `/queue create`, `/queue delete`, `/queue list`, `/queue sethome`, `/queue settime`, `/queue kick` o `/queue attention`."
	}
	r.reply(s, ic, msg, err)
}

func (r *Router) handleLFG(ctx context.Context, s *discordgo.Session, ic *discordgo.InteractionCreate, sub string) {
	name, _ := optStr(ic, "name")
	c := callerOf(ic)

	var (
		msg string
		err error
	)
	switch sub {
	case "join":
		mins, _ := optInt(ic, "minutes") // 0 = default del guild
		msg, err = r.queue.Join(ctx, c, name, mins)

	case "leave":
		msg, err = r.queue.Leave(ctx, c, name)

	case "who":
		msg, err = r.queue.Who(ctx, ic.GuildID, name)
		if err == nil {
			ReplyEphemeral(s, ic, msg, queueButtons(name)...)
			return
		}

	case "challenge":
		target, ok := optID(ic, "member")
		if !ok {
			ReplyEphemeral(s, ic, "⚠️ Falta a quién desafiar.")
			return
		}
		msg, err = r.queue.Challenge(ctx, c, name, target)

	case "history":
		msg, err = r.queue.History(ctx, ic.GuildID, name)

	default:
		msg = "Usa `/lfg join`, `/lfg leave`, `/lfg who` o `/lfg challenge`."
	}
	r.reply(s, ic, msg, err)
}

// confirmDelete pide "confirmar" en el canal antes de borrar la cola.
func (r *Router) confirmDelete(s *discordgo.Session, ic *discordgo.InteractionCreate, name string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("[discord] panic in delete confirmation", "panic", rec)
		}
	}()

	ReplyEphemeral(s, ic, fmt.Sprintf("⚠️ Vas a borrar **%s**: todos salen de la cola y se borra el rol.\nEscribí `confirmar` en este canal (30s).", name))

	wctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	answer, err := r.await.Wait(wctx, ic.ChannelID, userID(ic))
	cancel()
	switch {
	case errors.Is(err, ErrSuperseded):
		return
	case err != nil:
		ReplyEphemeral(s, ic, "⌛ Sin confirmación, no se borró nada.")
		return
	case !isConfirmation(answer):
		ReplyEphemeral(s, ic, "👌 Cancelado.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	msg, err := r.queue.Delete(ctx, ic.GuildID, name)
	r.reply(s, ic, msg, err)
}

// reply: los errores que no son de usuario se loguean y se muestran genéricos.
func (r *Router) reply(s *discordgo.Session, ic *discordgo.InteractionCreate, msg string, err error) {
	if err != nil {
		r.log.Error("[discord] command failed", "guild", ic.GuildID, "user", userID(ic), "err", err)
		msg = "⚠️ No se pudo completar: " + err.Error()
	}
	ReplyEphemeral(s, ic, msg)
}
