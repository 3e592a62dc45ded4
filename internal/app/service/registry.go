package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

const maxQueueNameRunes = 100

// QueueRegistry es dueño del namespace de colas de cada guild.
type QueueRegistry struct {
	log      *slog.Logger
	clock    clockwork.Clock
	queues   QueueRepo
	settings SettingsRepo
	pending  PendingRepo
	events   EventRepo
	handles  *HandleSyncer
	ledger   *Ledger
	limits   Limits

	guilds keyedMutex[string]
}

type RegistryDeps struct {
	Log      *slog.Logger
	Clock    clockwork.Clock
	Queues   QueueRepo
	Settings SettingsRepo
	Pending  PendingRepo
	Events   EventRepo
	Handles  *HandleSyncer
	Ledger   *Ledger
	Limits   Limits
}

func NewQueueRegistry(d RegistryDeps) *QueueRegistry {
	return &QueueRegistry{
		log:      d.Log,
		clock:    d.Clock,
		queues:   d.Queues,
		settings: d.Settings,
		pending:  d.Pending,
		events:   d.Events,
		handles:  d.Handles,
		ledger:   d.Ledger,
		limits:   d.Limits,
	}
}

// DeleteResult: Warning != nil => la cola quedó marcada y el reconciler termina el borrado.
type DeleteResult struct {
	Queue   domain.Queue
	Revoked int
	Warning error
}

func resolveActive(ctx context.Context, repo QueueRepo, guildID, name string) (domain.Queue, error) {
	q, err := repo.GetByName(ctx, guildID, domain.CanonicalName(name))
	if err != nil {
		return domain.Queue{}, err
	}
	if q.Status != domain.QueueActive {
		return domain.Queue{}, domain.ErrNotFound
	}
	return q, nil
}

func (r *QueueRegistry) Resolve(ctx context.Context, guildID, name string) (domain.Queue, error) {
	return resolveActive(ctx, r.queues, guildID, name)
}

// Create crea la cola y su handle con el nombre tal cual lo escribió el admin.
func (r *QueueRegistry) Create(ctx context.Context, guildID, displayName string) (domain.Queue, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > maxQueueNameRunes {
		return domain.Queue{}, domain.ErrInvalidName
	}
	canon := domain.CanonicalName(name)

	unlock := r.guilds.Lock(guildID)
	defer unlock()

	// incluye colas en borrado: el nombre se libera cuando el handle ya no existe
	_, err := r.queues.GetByName(ctx, guildID, canon)
	switch {
	case err == nil:
		return domain.Queue{}, domain.ErrDuplicateName
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Queue{}, err
	}

	ref, err := r.handles.CreateHandle(ctx, guildID, name)
	if err != nil {
		return domain.Queue{}, fmt.Errorf("create handle: %w", err)
	}

	q := domain.Queue{
		ID:            uuid.NewString(),
		GuildID:       guildID,
		Name:          name,
		CanonicalName: canon,
		Handle:        ref,
		Status:        domain.QueueActive,
		CreatedAt:     r.clock.Now(),
	}
	if err := r.queues.Insert(ctx, q); err != nil {
		// compensación: no dejar el rol huérfano
		if derr := r.handles.DeleteHandle(ctx, ref); derr != nil {
			r.handles.journal(ctx, domain.PendingOp{
				Kind:     domain.OpDeleteQueue,
				GuildID:  guildID,
				QueueID:  q.ID,
				HandleID: ref.ID,
			}, derr)
		}
		return domain.Queue{}, err
	}

	r.record(ctx, domain.Event{GuildID: guildID, QueueID: q.ID, Kind: domain.EventCreate, Detail: name})
	r.log.Info("[registry] created", "guild", guildID, "queue", name, "handle", ref.ID)
	return q, nil
}

// Delete vacía la cola, revoca handles, borra el handle y el registro.
func (r *QueueRegistry) Delete(ctx context.Context, guildID, name string) (DeleteResult, error) {
	q, err := resolveActive(ctx, r.queues, guildID, name)
	if err != nil {
		return DeleteResult{}, err
	}

	keys, err := r.ledger.Drain(ctx, q)
	if err != nil {
		return DeleteResult{Queue: q}, err
	}

	res := DeleteResult{Queue: q, Revoked: len(keys)}
	if err := r.finishDelete(ctx, q, keys); err != nil {
		r.handles.journal(ctx, domain.PendingOp{
			Kind:     domain.OpDeleteQueue,
			GuildID:  q.GuildID,
			QueueID:  q.ID,
			HandleID: q.Handle.ID,
		}, err)
		res.Warning = err
	}
	r.record(ctx, domain.Event{GuildID: guildID, QueueID: q.ID, Kind: domain.EventDelete, Detail: q.Name})
	return res, nil
}

// finishDelete es idempotente: también lo usa el reconciler para borrados a medias.
func (r *QueueRegistry) finishDelete(ctx context.Context, q domain.Queue, keys []domain.MemberKey) error {
	var (
		mu      sync.Mutex
		revokes error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, k := range keys {
		g.Go(func() error {
			if err := r.handles.Sync(gctx, q.Handle, k); err != nil {
				mu.Lock()
				revokes = multierr.Append(revokes, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if revokes != nil {
		// borrar el rol también lo saca de todos los miembros
		r.log.Warn("[registry] delete: some revokes failed", "queue", q.Name, "errors", len(multierr.Errors(revokes)), "err", revokes)
	}

	if !q.Handle.IsZero() {
		if err := r.handles.DeleteHandle(ctx, q.Handle); err != nil {
			return multierr.Append(revokes, fmt.Errorf("delete handle: %w", err))
		}
	}
	r.handles.Forget(q.ID)

	if err := r.queues.Delete(ctx, q.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete queue record: %w", err)
	}
	r.ledger.Forget(q.ID)
	if err := r.pending.Resolve(ctx, domain.OpDeleteQueue, q.ID, ""); err != nil {
		r.log.Warn("[registry] resolve pending delete", "queue", q.ID, "err", err)
	}
	r.log.Info("[registry] deleted", "guild", q.GuildID, "queue", q.Name, "revoked", len(keys))
	return nil
}

// List devuelve las colas activas por orden de creación.
func (r *QueueRegistry) List(ctx context.Context, guildID string) ([]domain.Queue, error) {
	all, err := r.queues.ListByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, q := range all {
		if q.Status == domain.QueueActive {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *QueueRegistry) SetHome(ctx context.Context, guildID, name, channelID string) (domain.Queue, error) {
	q, err := resolveActive(ctx, r.queues, guildID, name)
	if err != nil {
		return domain.Queue{}, err
	}
	if err := r.queues.SetHome(ctx, q.ID, channelID); err != nil {
		return domain.Queue{}, err
	}
	q.HomeChannelID = channelID
	return q, nil
}

// SetDefaultDuration cambia el default del guild; las membresías activas no se tocan.
func (r *QueueRegistry) SetDefaultDuration(ctx context.Context, guildID string, mins int) (domain.GuildSettings, error) {
	if err := r.limits.Validate(mins); err != nil {
		return domain.GuildSettings{}, err
	}
	return r.settings.SetDefaultMinutes(ctx, guildID, mins)
}

func (r *QueueRegistry) Settings(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	return r.settings.Get(ctx, guildID)
}

func (r *QueueRegistry) record(ctx context.Context, ev domain.Event) {
	if r.events == nil {
		return
	}
	ev.At = r.clock.Now()
	if err := r.events.Append(ctx, ev); err != nil {
		r.log.Warn("[registry] event append", "kind", ev.Kind, "err", err)
	}
}
