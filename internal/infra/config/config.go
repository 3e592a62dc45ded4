package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL  string
	DiscordToken string
	DiscordGuild string   // opcional: vacío = comandos globales
	AdminRoleIDs []string // además de Administrator / Manage Guild
	HTTPAddr     string   // ops API, default :8080
	OpsToken     string   // bearer del ops API; vacío = sólo /healthz y /metrics

	MaxQueueMinutes     int
	DefaultQueueMinutes int

	HandleRetryBase   time.Duration
	HandleRetryMax    uint64
	ReconcileInterval time.Duration
	DiscordAPIRPS     float64
}

// Load lee la config del entorno. El .env (si hay) lo carga main con godotenv.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DiscordToken: os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordGuild: os.Getenv("DISCORD_GUILD_ID"),
		AdminRoleIDs: splitList(os.Getenv("ADMIN_ROLE_IDS")),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OpsToken:     os.Getenv("OPS_TOKEN"),

		MaxQueueMinutes:     1440,
		DefaultQueueMinutes: 60,
		HandleRetryBase:     250 * time.Millisecond,
		HandleRetryMax:      5,
		ReconcileInterval:   30 * time.Second,
		DiscordAPIRPS:       5,
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.DiscordToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("faltante env %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.MaxQueueMinutes, err = intEnv("MAX_QUEUE_MINUTES", cfg.MaxQueueMinutes); err != nil {
		return Config{}, err
	}
	if cfg.DefaultQueueMinutes, err = intEnv("DEFAULT_QUEUE_MINUTES", cfg.DefaultQueueMinutes); err != nil {
		return Config{}, err
	}
	if cfg.HandleRetryBase, err = durEnv("HANDLE_RETRY_BASE", cfg.HandleRetryBase); err != nil {
		return Config{}, err
	}
	retries, err := intEnv("HANDLE_RETRY_MAX", int(cfg.HandleRetryMax))
	if err != nil {
		return Config{}, err
	}
	cfg.HandleRetryMax = uint64(max(retries, 0))
	if cfg.ReconcileInterval, err = durEnv("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DISCORD_API_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return Config{}, fmt.Errorf("DISCORD_API_RPS inválido: %q", v)
		}
		cfg.DiscordAPIRPS = f
	}

	if cfg.MaxQueueMinutes <= 0 {
		return Config{}, fmt.Errorf("MAX_QUEUE_MINUTES tiene que ser > 0")
	}
	if cfg.DefaultQueueMinutes <= 0 || cfg.DefaultQueueMinutes > cfg.MaxQueueMinutes {
		return Config{}, fmt.Errorf("DEFAULT_QUEUE_MINUTES tiene que estar entre 1 y %d", cfg.MaxQueueMinutes)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s inválido: %q", k, v)
	}
	return n, nil
}

func durEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s inválido: %q", k, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
