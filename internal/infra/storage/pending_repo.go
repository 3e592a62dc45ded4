package storage

import (
	"context"
	"database/sql"

	pq "github.com/lib/pq"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// PendingRepo es el journal de trabajo de handles que falló (tabla handle_ops).
type PendingRepo struct{ db *sql.DB }

func NewPendingRepo(db *sql.DB) *PendingRepo { return &PendingRepo{db: db} }

const pendingCols = `id, kind, guild_id, queue_id, handle_id, member_id, attempts, last_error, needs_attention, created_at, updated_at`

// Record: una fila por (kind, queue, member). Sin last_error es una intención (0 intentos,
// no pisa el último error); con error suma un intento.
func (r *PendingRepo) Record(ctx context.Context, op domain.PendingOp) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO handle_ops (kind, guild_id, queue_id, handle_id, member_id, attempts, last_error, needs_attention)
VALUES ($1,$2,$3,$4,$5, CASE WHEN $6 = '' THEN 0 ELSE 1 END, $6, $7)
ON CONFLICT (kind, queue_id, member_id) DO UPDATE SET
  handle_id       = EXCLUDED.handle_id,
  attempts        = handle_ops.attempts + CASE WHEN EXCLUDED.last_error = '' THEN 0 ELSE 1 END,
  last_error      = CASE WHEN EXCLUDED.last_error = '' THEN handle_ops.last_error ELSE EXCLUDED.last_error END,
  needs_attention = EXCLUDED.needs_attention,
  updated_at      = now()
`, op.Kind, op.GuildID, op.QueueID, op.HandleID, op.MemberID, op.LastError, op.NeedsAttention)
	return err
}

func (r *PendingRepo) Resolve(ctx context.Context, kind, queueID, memberID string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM handle_ops
 WHERE kind = $1 AND queue_id = $2 AND member_id = $3
`, kind, queueID, memberID)
	return err
}

// List devuelve lo reintentable (sin needs_attention), lo más viejo primero.
func (r *PendingRepo) List(ctx context.Context, limit int) ([]domain.PendingOp, error) {
	return r.list(ctx, `
SELECT `+pendingCols+`
  FROM handle_ops
 WHERE NOT needs_attention
 ORDER BY updated_at ASC, id ASC
 LIMIT $1
`, limit)
}

func (r *PendingRepo) ListAttention(ctx context.Context, guildID string, limit int) ([]domain.PendingOp, error) {
	return r.ListAttentionIn(ctx, []string{guildID}, limit)
}

// ListAttentionIn: guildIDs vacío => todos los guilds.
func (r *PendingRepo) ListAttentionIn(ctx context.Context, guildIDs []string, limit int) ([]domain.PendingOp, error) {
	if len(guildIDs) == 0 {
		return r.list(ctx, `
SELECT `+pendingCols+`
  FROM handle_ops
 WHERE needs_attention
 ORDER BY updated_at DESC, id DESC
 LIMIT $1
`, limit)
	}
	return r.list(ctx, `
SELECT `+pendingCols+`
  FROM handle_ops
 WHERE needs_attention AND guild_id = ANY($1)
 ORDER BY updated_at DESC, id DESC
 LIMIT $2
`, pq.Array(guildIDs), limit)
}

func (r *PendingRepo) list(ctx context.Context, query string, args ...any) ([]domain.PendingOp, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingOp
	for rows.Next() {
		var op domain.PendingOp
		if err := rows.Scan(&op.ID, &op.Kind, &op.GuildID, &op.QueueID, &op.HandleID, &op.MemberID,
			&op.Attempts, &op.LastError, &op.NeedsAttention, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
