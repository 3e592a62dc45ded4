package storage

import (
	"context"
	"database/sql"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// EventRepo es el historial append-only de lfg_events (el janitor lo recorta).
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, ev domain.Event) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO lfg_events (guild_id, queue_id, member_id, kind, detail, at)
VALUES ($1,$2,$3,$4,$5,$6)
`, ev.GuildID, ev.QueueID, ev.MemberID, ev.Kind, ev.Detail, ev.At)
	return err
}

func (r *EventRepo) Recent(ctx context.Context, guildID, queueID string, limit int) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT guild_id, queue_id, member_id, kind, detail, at
  FROM lfg_events
 WHERE guild_id = $1 AND queue_id = $2
 ORDER BY at DESC, id DESC
 LIMIT $3
`, guildID, queueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		if err := rows.Scan(&ev.GuildID, &ev.QueueID, &ev.MemberID, &ev.Kind, &ev.Detail, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
