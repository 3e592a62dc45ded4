package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// Reconciler reintenta el trabajo de handles que quedó en pending_ops
// y termina borrados de colas a medias.
type Reconciler struct {
	log      *slog.Logger
	clock    clockwork.Clock
	pending  PendingRepo
	queues   QueueRepo
	handles  *HandleSyncer
	registry *QueueRegistry
	interval time.Duration
	batch    int
}

func NewReconciler(log *slog.Logger, clock clockwork.Clock, pending PendingRepo, queues QueueRepo, h *HandleSyncer, reg *QueueRegistry, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{log: log, clock: clock, pending: pending, queues: queues, handles: h, registry: reg, interval: interval, batch: 100}
}

// RunOnce procesa un lote; devuelve cuántas ops quedaron resueltas.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	ops, err := r.pending.List(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	done := 0
	now := r.clock.Now()
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if op.Attempts == 0 && now.Sub(op.UpdatedAt) < r.interval {
			// intención recién escrita: lo más probable es que siga en curso
			continue
		}
		if r.apply(ctx, op) {
			done++
		}
	}
	if len(ops) > 0 {
		r.log.Info("[reconcile] pass", "ops", len(ops), "resolved", done)
	}
	return done, nil
}

func (r *Reconciler) apply(ctx context.Context, op domain.PendingOp) bool {
	q, err := r.queues.Get(ctx, op.QueueID)
	missing := errors.Is(err, domain.ErrNotFound)
	if err != nil && !missing {
		r.log.Warn("[reconcile] get queue", "queue", op.QueueID, "err", err)
		return false
	}

	switch op.Kind {
	case domain.OpSyncMember:
		if missing {
			// la cola ya no existe y su rol se borró con ella
			return r.resolve(ctx, op)
		}
		err := r.handles.Reconcile(ctx, q.Handle, domain.MemberKey{QueueID: op.QueueID, MemberID: op.MemberID})
		return err == nil

	case domain.OpDeleteQueue:
		if missing {
			// compensación de un create fallido o registro ya borrado: sólo queda el rol
			q = domain.Queue{ID: op.QueueID, GuildID: op.GuildID, Handle: op.Handle()}
		} else if q.Status == domain.QueueActive {
			// el insert sí llegó a persistir: la cola está en uso, no se borra
			return r.resolve(ctx, op)
		}
		if err := r.registry.finishDelete(ctx, q, nil); err != nil {
			r.handles.journal(ctx, op, err)
			return false
		}
		return true
	}

	r.log.Warn("[reconcile] unknown op kind", "kind", op.Kind, "id", op.ID)
	return false
}

func (r *Reconciler) resolve(ctx context.Context, op domain.PendingOp) bool {
	if err := r.pending.Resolve(ctx, op.Kind, op.QueueID, op.MemberID); err != nil {
		r.log.Warn("[reconcile] resolve", "kind", op.Kind, "queue", op.QueueID, "err", err)
		return false
	}
	return true
}

// Run corre RunOnce cada intervalo hasta que se cancele ctx.
func (r *Reconciler) Run(ctx context.Context) {
	t := r.clock.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			pctx, cancel := context.WithTimeout(ctx, r.interval)
			if _, err := r.RunOnce(pctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("[reconcile] pass failed", "err", err)
			}
			cancel()
		}
	}
}
