package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

type QueueRepo struct{ db *sql.DB }

func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

const queueCols = `id, guild_id, name, canonical_name, handle_id, home_channel_id, status, created_at`

func scanQueue(s rowScanner) (domain.Queue, error) {
	var (
		q    domain.Queue
		home sql.NullString
	)
	err := s.Scan(&q.ID, &q.GuildID, &q.Name, &q.CanonicalName, &q.Handle.ID, &home, &q.Status, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Queue{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Queue{}, err
	}
	q.Handle.GuildID = q.GuildID
	q.HomeChannelID = strOrEmpty(home)
	return q, nil
}

// Insert: el UNIQUE (guild_id, canonical_name) es la última palabra sobre duplicados.
func (r *QueueRepo) Insert(ctx context.Context, q domain.Queue) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO lfg_queues (id, guild_id, name, canonical_name, handle_id, home_channel_id, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, q.ID, q.GuildID, q.Name, q.CanonicalName, q.Handle.ID, nullIfEmpty(q.HomeChannelID), q.Status, q.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateName
	}
	return err
}

func (r *QueueRepo) Get(ctx context.Context, id string) (domain.Queue, error) {
	return scanQueue(r.db.QueryRowContext(ctx, `
SELECT `+queueCols+`
  FROM lfg_queues
 WHERE id = $1
`, id))
}

// GetByName devuelve la cola aunque esté en borrado; el que llama decide.
func (r *QueueRepo) GetByName(ctx context.Context, guildID, canonical string) (domain.Queue, error) {
	return scanQueue(r.db.QueryRowContext(ctx, `
SELECT `+queueCols+`
  FROM lfg_queues
 WHERE guild_id = $1 AND canonical_name = $2
`, guildID, canonical))
}

func (r *QueueRepo) ListByGuild(ctx context.Context, guildID string) ([]domain.Queue, error) {
	return r.list(ctx, `
SELECT `+queueCols+`
  FROM lfg_queues
 WHERE guild_id = $1
 ORDER BY created_at ASC, id ASC
`, guildID)
}

func (r *QueueRepo) ListDeleting(ctx context.Context) ([]domain.Queue, error) {
	return r.list(ctx, `
SELECT `+queueCols+`
  FROM lfg_queues
 WHERE status = 'deleting'
`)
}

func (r *QueueRepo) list(ctx context.Context, query string, args ...any) ([]domain.Queue, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *QueueRepo) SetHome(ctx context.Context, id, channelID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE lfg_queues SET home_channel_id = $2 WHERE id = $1
`, id, nullIfEmpty(channelID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDeleting cambia el status y borra las membresías en la misma transacción.
func (r *QueueRepo) MarkDeleting(ctx context.Context, id string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE lfg_queues SET status = 'deleting' WHERE id = $1
`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM lfg_memberships WHERE queue_id = $1`, id)
		return err
	})
}

// Delete borra el registro; las membresías que queden caen por ON DELETE CASCADE.
func (r *QueueRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lfg_queues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
