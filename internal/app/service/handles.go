package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// RetryPolicy acota los reintentos de errores transitorios del adaptador.
type RetryPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries uint64
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	capd := p.Cap
	if capd <= 0 {
		capd = 5 * time.Second
	}
	return retry.WithMaxRetries(p.MaxRetries, retry.WithCappedDuration(capd, retry.NewExponential(base)))
}

// HandleSyncer aplica grant/revoke contra el adaptador. Es level-triggered:
// lee el estado deseado del ledger al momento de llamar, serializado por clave,
// así dos llamadas que terminan fuera de orden igual convergen.
//
// Cada cambio del ledger deja antes una intención en pending_ops (Intent); la fila
// se borra recién cuando el handle coincide con el ledger, bajo el lock de la clave
// del ledger. Si el proceso muere en el medio, la fila sigue ahí para el reconciler.
type HandleSyncer struct {
	log     *slog.Logger
	adapter HandleAdapter
	pending PendingRepo
	policy  RetryPolicy
	metrics *Metrics

	desired func(domain.MemberKey) bool
	guard   func(domain.MemberKey) func()
	locks   keyedMutex[domain.MemberKey]

	mu      sync.Mutex
	applied map[domain.MemberKey]bool
}

func NewHandleSyncer(log *slog.Logger, adapter HandleAdapter, pending PendingRepo, policy RetryPolicy, m *Metrics) *HandleSyncer {
	return &HandleSyncer{
		log:     log,
		adapter: adapter,
		pending: pending,
		policy:  policy,
		metrics: m,
		desired: func(domain.MemberKey) bool { return false },
		guard:   func(domain.MemberKey) func() { return func() {} },
		applied: make(map[domain.MemberKey]bool),
	}
}

// Intent journala que la clave va a cambiar. Se llama antes de tocar la base del ledger;
// si falla, el cambio no se hace.
func (h *HandleSyncer) Intent(ctx context.Context, ref domain.HandleRef, key domain.MemberKey) error {
	return h.record(ctx, domain.PendingOp{
		Kind:     domain.OpSyncMember,
		GuildID:  ref.GuildID,
		QueueID:  key.QueueID,
		HandleID: ref.ID,
		MemberID: key.MemberID,
	})
}

// Sync deja el handle del miembro igual a lo que dice el ledger.
func (h *HandleSyncer) Sync(ctx context.Context, ref domain.HandleRef, key domain.MemberKey) error {
	return h.sync(ctx, ref, key, false)
}

// Reconcile fuerza la llamada aunque el cache diga que ya está aplicado
// (después de un restart el cache no sabe lo que quedó a medias).
func (h *HandleSyncer) Reconcile(ctx context.Context, ref domain.HandleRef, key domain.MemberKey) error {
	return h.sync(ctx, ref, key, true)
}

func (h *HandleSyncer) sync(ctx context.Context, ref domain.HandleRef, key domain.MemberKey, force bool) error {
	unlock := h.locks.Lock(key)
	defer unlock()

	for {
		want := h.desired(key)
		h.mu.Lock()
		have := h.applied[key]
		h.mu.Unlock()

		if force || have != want {
			var err error
			if want {
				err = h.call(ctx, "grant", func(ctx context.Context) error { return h.adapter.Grant(ctx, ref, key.MemberID) })
			} else {
				err = h.call(ctx, "revoke", func(ctx context.Context) error { return h.adapter.Revoke(ctx, ref, key.MemberID) })
			}
			if err != nil {
				h.journal(ctx, domain.PendingOp{
					Kind:     domain.OpSyncMember,
					GuildID:  ref.GuildID,
					QueueID:  key.QueueID,
					HandleID: ref.ID,
					MemberID: key.MemberID,
				}, err)
				return err
			}

			h.mu.Lock()
			if want {
				h.applied[key] = true
			} else {
				delete(h.applied, key)
			}
			h.mu.Unlock()
		}

		// con el lock del ledger tomado nadie journala una intención nueva mientras borramos
		release := h.guard(key)
		if h.desired(key) != want {
			release()
			force = false
			continue
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		err := h.pending.Resolve(rctx, domain.OpSyncMember, key.QueueID, key.MemberID)
		cancel()
		release()
		if err != nil {
			// la fila queda y el reconciler vuelve a pasar: no rompe nada
			h.log.Warn("[handles] resolve pending", "queue", key.QueueID, "member", key.MemberID, "err", err)
		}
		return nil
	}
}

// Seed marca como concedidos los handles de membresías rehidratadas. Lo que no llegó
// a aplicarse tiene su intención en pending_ops y lo repite Rehydrate.
func (h *HandleSyncer) Seed(keys []domain.MemberKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		h.applied[k] = true
	}
}

// Forget limpia el cache de una cola borrada.
func (h *HandleSyncer) Forget(queueID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.applied {
		if k.QueueID == queueID {
			delete(h.applied, k)
		}
	}
}

func (h *HandleSyncer) CreateHandle(ctx context.Context, guildID, displayName string) (domain.HandleRef, error) {
	var ref domain.HandleRef
	err := h.call(ctx, "create", func(ctx context.Context) error {
		r, err := h.adapter.CreateHandle(ctx, guildID, displayName)
		if err == nil {
			ref = r
		}
		return err
	})
	return ref, err
}

func (h *HandleSyncer) DeleteHandle(ctx context.Context, ref domain.HandleRef) error {
	return h.call(ctx, "delete", func(ctx context.Context) error { return h.adapter.DeleteHandle(ctx, ref) })
}

// call reintenta sólo errores transitorios, con backoff exponencial acotado.
func (h *HandleSyncer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, h.policy.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && domain.IsTransient(err) {
			h.metrics.adapterRetries.WithLabelValues(op).Inc()
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err == nil:
		h.metrics.adapterCalls.WithLabelValues(op, "ok").Inc()
	case domain.IsTransient(err):
		h.metrics.adapterCalls.WithLabelValues(op, "transient").Inc()
	case errors.Is(err, domain.ErrAdapterPermanent):
		h.metrics.adapterCalls.WithLabelValues(op, "permanent").Inc()
	default:
		h.metrics.adapterCalls.WithLabelValues(op, "error").Inc()
	}
	return err
}

// journal deja registro del trabajo fallido. Permanente => needs_attention.
func (h *HandleSyncer) journal(ctx context.Context, op domain.PendingOp, cause error) {
	op.LastError = cause.Error()
	op.NeedsAttention = errors.Is(cause, domain.ErrAdapterPermanent)

	if err := h.record(ctx, op); err != nil {
		// la intención previa sigue en la tabla, el reconciler la retoma igual
		h.log.Error("[handles] journal failed", "kind", op.Kind, "queue", op.QueueID, "member", op.MemberID, "cause", cause, "err", err)
		return
	}

	attention := "no"
	if op.NeedsAttention {
		attention = "yes"
		h.log.Error("[handles] permanent failure, needs attention", "kind", op.Kind, "guild", op.GuildID, "queue", op.QueueID, "member", op.MemberID, "err", cause)
	} else {
		h.log.Warn("[handles] transient failure, queued for retry", "kind", op.Kind, "guild", op.GuildID, "queue", op.QueueID, "member", op.MemberID, "err", cause)
	}
	h.metrics.pendingOps.WithLabelValues(op.Kind, attention).Inc()
}

// record escribe en pending_ops con unos pocos reintentos; sobrevive a un ctx ya cancelado.
func (h *HandleSyncer) record(ctx context.Context, op domain.PendingOp) error {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	b := retry.WithMaxRetries(journalRetries, retry.NewExponential(50*time.Millisecond))
	return retry.Do(jctx, b, func(ctx context.Context) error {
		if err := h.pending.Record(ctx, op); err != nil {
			h.log.Debug("[handles] journal write retry", "kind", op.Kind, "queue", op.QueueID, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

const journalRetries = 3
