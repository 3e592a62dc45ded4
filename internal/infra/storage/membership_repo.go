package storage

import (
	"context"
	"database/sql"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

type MembershipRepo struct{ db *sql.DB }

func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{db: db} }

// Upsert: join o refresh. joined_at no cambia en el refresh.
func (r *MembershipRepo) Upsert(ctx context.Context, m domain.Membership) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO lfg_memberships (queue_id, member_id, guild_id, joined_at, expires_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (queue_id, member_id) DO UPDATE SET
  expires_at = EXCLUDED.expires_at
`, m.QueueID, m.MemberID, m.GuildID, m.JoinedAt, m.ExpiresAt)
	return err
}

func (r *MembershipRepo) Delete(ctx context.Context, queueID, memberID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM lfg_memberships
 WHERE queue_id = $1 AND member_id = $2
`, queueID, memberID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAll se usa sólo al arrancar (rehidratación).
func (r *MembershipRepo) ListAll(ctx context.Context) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT queue_id, member_id, guild_id, joined_at, expires_at
  FROM lfg_memberships
 ORDER BY joined_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.QueueID, &m.MemberID, &m.GuildID, &m.JoinedAt, &m.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
