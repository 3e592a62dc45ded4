package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// roleAPI es lo que usamos de *discordgo.Session (los tests lo reemplazan).
type roleAPI interface {
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
	GuildRoleDelete(guildID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// RoleAdapter implementa el handle de cada cola como un rol mencionable.
// Todas las llamadas pasan por un rate.Limiter para no pelear con los buckets de Discord.
type RoleAdapter struct {
	api     roleAPI
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewRoleAdapter(api roleAPI, rps float64, log *slog.Logger) *RoleAdapter {
	if rps <= 0 {
		rps = 5
	}
	burst := max(int(rps), 1)
	return &RoleAdapter{api: api, limiter: rate.NewLimiter(rate.Limit(rps), burst), log: log}
}

func (a *RoleAdapter) CreateHandle(ctx context.Context, guildID, displayName string) (domain.HandleRef, error) {
	if err := a.wait(ctx, "create"); err != nil {
		return domain.HandleRef{}, err
	}
	mentionable := true
	hoist := false
	role, err := a.api.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        displayName,
		Mentionable: &mentionable,
		Hoist:       &hoist,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return domain.HandleRef{}, classify("create", err, false)
	}
	a.log.Debug("[roles] created", "guild", guildID, "role", role.ID, "name", displayName)
	return domain.HandleRef{GuildID: guildID, ID: role.ID}, nil
}

func (a *RoleAdapter) DeleteHandle(ctx context.Context, ref domain.HandleRef) error {
	if err := a.wait(ctx, "delete"); err != nil {
		return err
	}
	err := a.api.GuildRoleDelete(ref.GuildID, ref.ID, discordgo.WithContext(ctx))
	return classify("delete", err, true)
}

func (a *RoleAdapter) Grant(ctx context.Context, ref domain.HandleRef, memberID string) error {
	if err := a.wait(ctx, "grant"); err != nil {
		return err
	}
	err := a.api.GuildMemberRoleAdd(ref.GuildID, memberID, ref.ID, discordgo.WithContext(ctx))
	return classify("grant", err, false)
}

func (a *RoleAdapter) Revoke(ctx context.Context, ref domain.HandleRef, memberID string) error {
	if err := a.wait(ctx, "revoke"); err != nil {
		return err
	}
	// 404: el miembro se fue del server o el rol ya no existe, ya está revocado
	err := a.api.GuildMemberRoleRemove(ref.GuildID, memberID, ref.ID, discordgo.WithContext(ctx))
	return classify("revoke", err, true)
}

func (a *RoleAdapter) wait(ctx context.Context, op string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return domain.Transient(op, err)
	}
	return nil
}

// classify traduce errores de discordgo a transitorio / permanente.
// goneOK: un 404 cuenta como éxito (revoke, delete).
func classify(op string, err error, goneOK bool) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return domain.Transient(op, err)
	}
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		switch {
		case code == http.StatusNotFound && goneOK:
			return nil
		case code == http.StatusTooManyRequests, code >= 500:
			return domain.Transient(op, err)
		default:
			// 403 sin permisos / jerarquía de roles, 404 en grant, 400...
			return domain.Permanent(op, err)
		}
	}
	// red, timeouts, contexto
	return domain.Transient(op, err)
}
