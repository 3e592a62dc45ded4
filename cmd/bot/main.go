package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	discordrouter "github.com/jose-valero/lfg-queue-bot/internal/adapters/discord"
	"github.com/jose-valero/lfg-queue-bot/internal/adapters/httpapi"
	"github.com/jose-valero/lfg-queue-bot/internal/app/service"
	"github.com/jose-valero/lfg-queue-bot/internal/infra/config"
	"github.com/jose-valero/lfg-queue-bot/internal/infra/storage"
	"github.com/jose-valero/lfg-queue-bot/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	log := logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		log.Error("migrate", "err", err)
		os.Exit(1)
	}
	log.Info("✅ DB lista y migrada")

	// Repos
	queueRepo := storage.NewQueueRepo(db)
	memberRepo := storage.NewMembershipRepo(db)
	settingsRepo := storage.NewSettingsRepo(db, cfg.DefaultQueueMinutes)
	pendingRepo := storage.NewPendingRepo(db)
	eventRepo := storage.NewEventRepo(db)

	// Discord session
	auth := cfg.DiscordToken
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(auth)), "bot ") {
		auth = "Bot " + strings.TrimSpace(auth)
	}
	s, err := discordgo.New(auth)
	if err != nil {
		log.Error("discord", "err", err)
		os.Exit(1)
	}
	// MessageContent: la confirmación de /queue delete se lee del canal
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	if err := s.Open(); err != nil {
		log.Error("discord open", "err", err)
		os.Exit(1)
	}
	defer s.Close()
	log.Info("✅ Conectado", "user", s.State.User.Username, "id", s.State.User.ID)

	// Services
	limits := service.Limits{DefaultMinutes: cfg.DefaultQueueMinutes, MaxMinutes: cfg.MaxQueueMinutes}
	core := service.NewCore(service.CoreConfig{
		Log:         log,
		Clock:       clockwork.NewRealClock(),
		Queues:      queueRepo,
		Memberships: memberRepo,
		Settings:    settingsRepo,
		Pending:     pendingRepo,
		Events:      eventRepo,
		Adapter:     discordrouter.NewRoleAdapter(s, cfg.DiscordAPIRPS, log),
		Notifier:    discordrouter.NewChannelNotifier(s),
		Limits:      limits,
		Retry: service.RetryPolicy{
			Base:       cfg.HandleRetryBase,
			Cap:        5 * time.Second,
			MaxRetries: cfg.HandleRetryMax,
		},
		ReconcileInterval: cfg.ReconcileInterval,
		Metrics:           service.NewMetrics(prometheus.DefaultRegisterer),
	})
	defer core.Ledger.Scheduler().Stop()

	rctx, cancel := context.WithTimeout(ctx, time.Minute)
	restored, expired, err := core.Ledger.Rehydrate(rctx)
	cancel()
	if err != nil {
		log.Error("rehydrate", "err", err)
		os.Exit(1)
	}
	log.Info("✅ membresías restauradas", "restored", restored, "expired", expired)

	go core.Reconciler.Run(ctx)

	queueSvc := service.NewQueueService(core, limits)
	settingsSvc := service.NewSettingsService(core.Registry, limits)

	// Ops API
	web := httpapi.New(httpapi.Deps{
		Log:       log,
		Token:     cfg.OpsToken,
		Queues:    core.Registry,
		Members:   core.Ledger,
		Attention: pendingRepo,
		Gatherer:  prometheus.DefaultGatherer,
	})
	go func() {
		if err := web.Start(cfg.HTTPAddr); err != nil {
			log.Error("http server", "err", err)
			stop()
		}
	}()

	// Router
	r := discordrouter.NewRouter(discordrouter.RouterDeps{
		Session:      s,
		GuildID:      cfg.DiscordGuild,
		Log:          log,
		Queue:        queueSvc,
		Settings:     settingsSvc,
		AdminRoleIDs: cfg.AdminRoleIDs,
		MaxMinutes:   cfg.MaxQueueMinutes,
	})
	if err := r.Register(); err != nil {
		log.Error("registrando comandos", "err", err)
		os.Exit(1)
	}
	r.Handlers()
	log.Info("✅ comandos registrados", "guild", cfg.DiscordGuild)

	// Esperar señal
	<-ctx.Done()
	log.Info("apagando")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := web.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
}
