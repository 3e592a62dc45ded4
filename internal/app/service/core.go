package service

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Core arma los componentes del ciclo de vida de las colas.
type Core struct {
	Registry   *QueueRegistry
	Ledger     *Ledger
	Broker     *ChallengeBroker
	Handles    *HandleSyncer
	Reconciler *Reconciler
	Pending    PendingRepo
	Events     EventRepo
}

type CoreConfig struct {
	Log               *slog.Logger
	Clock             clockwork.Clock
	Queues            QueueRepo
	Memberships       MembershipRepo
	Settings          SettingsRepo
	Pending           PendingRepo
	Events            EventRepo
	Adapter           HandleAdapter
	Notifier          Notifier
	Limits            Limits
	Retry             RetryPolicy
	ReconcileInterval time.Duration
	Metrics           *Metrics
}

func NewCore(cfg CoreConfig) *Core {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	handles := NewHandleSyncer(cfg.Log, cfg.Adapter, cfg.Pending, cfg.Retry, cfg.Metrics)
	ledger := NewLedger(LedgerDeps{
		Log:         cfg.Log,
		Clock:       cfg.Clock,
		Queues:      cfg.Queues,
		Memberships: cfg.Memberships,
		Settings:    cfg.Settings,
		Events:      cfg.Events,
		Notifier:    cfg.Notifier,
		Handles:     handles,
		Limits:      cfg.Limits,
		Metrics:     cfg.Metrics,
	})
	registry := NewQueueRegistry(RegistryDeps{
		Log:      cfg.Log,
		Clock:    cfg.Clock,
		Queues:   cfg.Queues,
		Settings: cfg.Settings,
		Pending:  cfg.Pending,
		Events:   cfg.Events,
		Handles:  handles,
		Ledger:   ledger,
		Limits:   cfg.Limits,
	})
	return &Core{
		Registry:   registry,
		Ledger:     ledger,
		Broker:     NewChallengeBroker(cfg.Log, ledger, cfg.Notifier),
		Handles:    handles,
		Reconciler: NewReconciler(cfg.Log, cfg.Clock, cfg.Pending, cfg.Queues, handles, registry, cfg.ReconcileInterval),
		Pending:    cfg.Pending,
		Events:     cfg.Events,
	}
}
