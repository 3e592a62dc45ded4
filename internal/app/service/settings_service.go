package service

import (
	"context"
	"fmt"
)

// SettingsService muestra la configuración del guild.
type SettingsService struct {
	registry *QueueRegistry
	limits   Limits
}

func NewSettingsService(r *QueueRegistry, limits Limits) *SettingsService {
	return &SettingsService{registry: r, limits: limits}
}

func (s *SettingsService) Show(ctx context.Context, guildID string) (string, error) {
	st, err := s.registry.Settings(ctx, guildID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"**Configuración de colas**\n• default_minutes: **%d**\n• max_minutes: **%d**",
		st.DefaultMinutes, s.limits.MaxMinutes,
	), nil
}
