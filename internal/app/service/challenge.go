package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// ChallengeBroker avisa a un miembro de la cola que otro lo está buscando. No guarda estado.
type ChallengeBroker struct {
	log    *slog.Logger
	ledger *Ledger
	notify Notifier
}

func NewChallengeBroker(log *slog.Logger, l *Ledger, n Notifier) *ChallengeBroker {
	return &ChallengeBroker{log: log, ledger: l, notify: n}
}

func (b *ChallengeBroker) Challenge(ctx context.Context, c Caller, name, targetID string) (domain.Queue, error) {
	if targetID == c.MemberID {
		return domain.Queue{}, domain.ErrSelfChallenge
	}
	q, err := resolveActive(ctx, b.ledger.queues, c.GuildID, name)
	if err != nil {
		return domain.Queue{}, err
	}
	if !b.ledger.has(domain.MemberKey{QueueID: q.ID, MemberID: c.MemberID}) ||
		!b.ledger.has(domain.MemberKey{QueueID: q.ID, MemberID: targetID}) {
		return q, domain.ErrNotMember
	}

	target := q.Target(c.ChannelID)
	msg := fmt.Sprintf("⚔️ <@%s>, <@%s> te desafía en **%s**.", targetID, c.MemberID, q.Name)
	if err := b.notify.Notify(ctx, target, msg); err != nil {
		return q, fmt.Errorf("notify challenge: %w", err)
	}
	b.ledger.record(ctx, domain.Event{GuildID: q.GuildID, QueueID: q.ID, MemberID: c.MemberID, Kind: domain.EventChallenge, Detail: targetID})
	b.log.Info("[challenge] sent", "guild", q.GuildID, "queue", q.Name, "from", c.MemberID, "to", targetID, "channel", target)
	return q, nil
}
