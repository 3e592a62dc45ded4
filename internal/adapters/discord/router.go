package discord

import (
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/lfg-queue-bot/internal/app/service"
)

const (
	cmdTimeout     = 12 * time.Second
	confirmTimeout = 30 * time.Second
)

type Router struct {
	s       *discordgo.Session
	guildID string // vacío = comandos globales
	log     *slog.Logger

	queue        *service.QueueService
	settings     *service.SettingsService
	adminRoleIDs []string
	maxMinutes   int
	await        *Awaiter
}

type RouterDeps struct {
	Session      *discordgo.Session
	GuildID      string
	Log          *slog.Logger
	Queue        *service.QueueService
	Settings     *service.SettingsService
	AdminRoleIDs []string
	MaxMinutes   int
}

func NewRouter(d RouterDeps) *Router {
	return &Router{
		s:            d.Session,
		guildID:      d.GuildID,
		log:          d.Log,
		queue:        d.Queue,
		settings:     d.Settings,
		adminRoleIDs: d.AdminRoleIDs,
		maxMinutes:   d.MaxMinutes,
		await:        NewAwaiter(),
	}
}

// Register pisa los comandos de la app (bulk overwrite: los viejos desaparecen).
func (r *Router) Register() error {
	appID := r.s.State.User.ID
	_, err := r.s.ApplicationCommandBulkOverwrite(appID, r.guildID, Commands(r.maxMinutes))
	return err
}

func (r *Router) Handlers() {
	r.s.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		switch ic.Type {
		case discordgo.InteractionApplicationCommand:
			r.handleSlashCommand(s, ic)
		case discordgo.InteractionMessageComponent:
			r.handleMessageComponent(s, ic)
		}
	})

	// respuestas a prompts (confirmación de /queue delete)
	r.s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if r.await.Deliver(m.ChannelID, m.Author.ID, m.Content) {
			// el "confirmar" no tiene por qué quedar en el canal
			if err := s.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
				r.log.Debug("[discord] delete prompt reply", "err", err)
			}
		}
	})
}
