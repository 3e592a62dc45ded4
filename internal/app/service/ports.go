package service

import (
	"context"
	"time"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// Lo implementa internal/infra/storage.QueueRepo
type QueueRepo interface {
	Insert(ctx context.Context, q domain.Queue) error
	Get(ctx context.Context, id string) (domain.Queue, error)
	GetByName(ctx context.Context, guildID, canonical string) (domain.Queue, error)
	ListByGuild(ctx context.Context, guildID string) ([]domain.Queue, error)
	ListDeleting(ctx context.Context) ([]domain.Queue, error)
	SetHome(ctx context.Context, id, channelID string) error
	// MarkDeleting cambia el status y borra las membresías en la misma transacción.
	MarkDeleting(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Lo implementa internal/infra/storage.MembershipRepo
type MembershipRepo interface {
	Upsert(ctx context.Context, m domain.Membership) error
	Delete(ctx context.Context, queueID, memberID string) (bool, error)
	ListAll(ctx context.Context) ([]domain.Membership, error)
}

// Lo implementa internal/infra/storage.SettingsRepo
type SettingsRepo interface {
	Get(ctx context.Context, guildID string) (domain.GuildSettings, error)
	SetDefaultMinutes(ctx context.Context, guildID string, minutes int) (domain.GuildSettings, error)
}

// Lo implementa internal/infra/storage.PendingRepo
type PendingRepo interface {
	Record(ctx context.Context, op domain.PendingOp) error
	Resolve(ctx context.Context, kind, queueID, memberID string) error
	List(ctx context.Context, limit int) ([]domain.PendingOp, error)
	ListAttention(ctx context.Context, guildID string, limit int) ([]domain.PendingOp, error)
}

// Lo implementa internal/infra/storage.EventRepo
type EventRepo interface {
	Append(ctx context.Context, ev domain.Event) error
	Recent(ctx context.Context, guildID, queueID string, limit int) ([]domain.Event, error)
}

// Lo implementa internal/adapters/discord.RoleAdapter (roles mencionables).
type HandleAdapter interface {
	CreateHandle(ctx context.Context, guildID, displayName string) (domain.HandleRef, error)
	DeleteHandle(ctx context.Context, ref domain.HandleRef) error
	Grant(ctx context.Context, ref domain.HandleRef, memberID string) error
	Revoke(ctx context.Context, ref domain.HandleRef, memberID string) error
}

// Lo implementa internal/adapters/discord.ChannelNotifier
type Notifier interface {
	Notify(ctx context.Context, channelID, content string) error
}

// Limits son los topes de duración, vienen de config.
type Limits struct {
	DefaultMinutes int
	MaxMinutes     int
}

func (l Limits) Validate(minutes int) error {
	if minutes <= 0 || minutes > l.MaxMinutes {
		return domain.ErrInvalidDuration
	}
	return nil
}

// Caller es quien ejecuta la acción y desde dónde.
type Caller struct {
	GuildID   string
	MemberID  string
	ChannelID string
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
