package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

type SettingsRepo struct {
	db             *sql.DB
	defaultMinutes int
}

// NewSettingsRepo: defaultMinutes es lo que recibe un guild nuevo.
func NewSettingsRepo(db *sql.DB, defaultMinutes int) *SettingsRepo {
	return &SettingsRepo{db: db, defaultMinutes: defaultMinutes}
}

func (r *SettingsRepo) Get(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	var s domain.GuildSettings
	err := r.db.QueryRowContext(ctx, `
SELECT guild_id, default_minutes, created_at, updated_at
  FROM guild_settings
 WHERE guild_id = $1
`, guildID).Scan(&s.GuildID, &s.DefaultMinutes, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// crea default
		_, err := r.db.ExecContext(ctx, `
INSERT INTO guild_settings (guild_id, default_minutes) VALUES ($1, $2)
ON CONFLICT (guild_id) DO NOTHING
`, guildID, r.defaultMinutes)
		if err != nil {
			return domain.GuildSettings{}, err
		}
		return r.Get(ctx, guildID)
	}
	return s, err
}

func (r *SettingsRepo) SetDefaultMinutes(ctx context.Context, guildID string, minutes int) (domain.GuildSettings, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO guild_settings (guild_id, default_minutes, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (guild_id) DO UPDATE SET
  default_minutes = EXCLUDED.default_minutes,
  updated_at      = NOW()
`, guildID, minutes)
	if err != nil {
		return domain.GuildSettings{}, err
	}
	return r.Get(ctx, guildID)
}
