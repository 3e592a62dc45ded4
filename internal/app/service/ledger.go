package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// Ledger es la fuente de verdad de las membresías vivas.
// Estados por (cola, miembro): absent -> active -> absent (leave | expiry).
type Ledger struct {
	log      *slog.Logger
	clock    clockwork.Clock
	queues   QueueRepo
	repo     MembershipRepo
	settings SettingsRepo
	events   EventRepo
	notify   Notifier
	handles  *HandleSyncer
	limits   Limits
	metrics  *Metrics
	sched    *ExpiryScheduler

	keys keyedMutex[domain.MemberKey]
	ns   keyedRWMutex[string]

	mu    sync.RWMutex
	state map[string]*queueState
	gen   atomic.Uint64

	fireTimeout time.Duration
}

type queueState struct {
	queue   domain.Queue
	closed  bool
	members map[string]domain.Membership
}

type JoinResult struct {
	Queue      domain.Queue
	Membership domain.Membership
	Refreshed  bool
	Warning    error // el ledger ya quedó bien, el handle se reintenta aparte
}

type LeaveResult struct {
	Queue   domain.Queue
	Warning error
}

type MemberView struct {
	MemberID  string
	JoinedAt  time.Time
	ExpiresAt time.Time
	Remaining time.Duration
}

type LedgerDeps struct {
	Log         *slog.Logger
	Clock       clockwork.Clock
	Queues      QueueRepo
	Memberships MembershipRepo
	Settings    SettingsRepo
	Events      EventRepo
	Notifier    Notifier
	Handles     *HandleSyncer
	Limits      Limits
	Metrics     *Metrics
}

func NewLedger(d LedgerDeps) *Ledger {
	l := &Ledger{
		log:         d.Log,
		clock:       d.Clock,
		queues:      d.Queues,
		repo:        d.Memberships,
		settings:    d.Settings,
		events:      d.Events,
		notify:      d.Notifier,
		handles:     d.Handles,
		limits:      d.Limits,
		metrics:     d.Metrics,
		state:       make(map[string]*queueState),
		fireTimeout: 15 * time.Second,
	}
	l.sched = NewExpiryScheduler(d.Clock, d.Metrics, l.expire)
	d.Handles.desired = l.has
	d.Handles.guard = l.keys.Lock
	return l
}

func (l *Ledger) Scheduler() *ExpiryScheduler { return l.sched }

// Join crea o refresca la membresía. minutes == 0 => default del guild.
func (l *Ledger) Join(ctx context.Context, c Caller, name string, mins int) (JoinResult, error) {
	q, err := resolveActive(ctx, l.queues, c.GuildID, name)
	if err != nil {
		return JoinResult{}, err
	}
	if mins == 0 {
		if mins, err = l.defaultMinutes(ctx, c.GuildID); err != nil {
			return JoinResult{}, err
		}
	}
	if err := l.limits.Validate(mins); err != nil {
		return JoinResult{}, fmt.Errorf("%d minutos: %w", mins, err)
	}

	key := domain.MemberKey{QueueID: q.ID, MemberID: c.MemberID}
	unlockNS := l.ns.RLock(q.ID)
	unlock := l.keys.Lock(key)

	open, err := l.open(ctx, q.ID)
	if err != nil || !open {
		unlock()
		unlockNS()
		if err != nil {
			return JoinResult{}, fmt.Errorf("check queue: %w", err)
		}
		return JoinResult{}, domain.ErrNotFound
	}

	now := l.clock.Now()
	prev, existed := l.get(key)
	if !existed {
		// antes de escribir la membresía: si morimos antes del grant, el reconciler lo ve
		if err := l.handles.Intent(ctx, q.Handle, key); err != nil {
			unlock()
			unlockNS()
			return JoinResult{}, fmt.Errorf("journal grant: %w", err)
		}
	}
	m := domain.Membership{
		QueueID:    q.ID,
		GuildID:    q.GuildID,
		MemberID:   c.MemberID,
		JoinedAt:   now,
		ExpiresAt:  now.Add(minutes(mins)),
		Generation: l.gen.Add(1),
	}
	if existed {
		m.JoinedAt = prev.JoinedAt
	}
	if err := l.repo.Upsert(ctx, m); err != nil {
		unlock()
		unlockNS()
		return JoinResult{}, fmt.Errorf("persist membership: %w", err)
	}
	l.put(q, m)
	l.sched.Arm(key, m.Generation, m.ExpiresAt)
	unlock()
	unlockNS()

	res := JoinResult{Queue: q, Membership: m, Refreshed: existed}
	kind := domain.EventRefresh
	if !existed {
		kind = domain.EventJoin
		// el grant va fuera del lock por clave
		if err := l.handles.Sync(ctx, q.Handle, key); err != nil {
			res.Warning = err
		}
		l.metrics.joins.WithLabelValues("created").Inc()
	} else {
		l.metrics.joins.WithLabelValues("refreshed").Inc()
	}
	l.record(ctx, domain.Event{GuildID: q.GuildID, QueueID: q.ID, MemberID: c.MemberID, Kind: kind, Detail: fmt.Sprintf("%dm", mins)})
	l.log.Info("[ledger] join", "guild", q.GuildID, "queue", q.Name, "member", c.MemberID, "refreshed", existed, "expires_at", m.ExpiresAt)
	return res, nil
}

// Leave: NotMember si no estaba (también es el resultado benigno si perdió contra el expiry).
func (l *Ledger) Leave(ctx context.Context, c Caller, name string) (LeaveResult, error) {
	q, err := resolveActive(ctx, l.queues, c.GuildID, name)
	if err != nil {
		return LeaveResult{}, err
	}
	return l.remove(ctx, q, c.MemberID, domain.EventLeave)
}

// Kick saca a otro miembro (acción de admin).
func (l *Ledger) Kick(ctx context.Context, guildID, name, memberID string) (LeaveResult, error) {
	q, err := resolveActive(ctx, l.queues, guildID, name)
	if err != nil {
		return LeaveResult{}, err
	}
	return l.remove(ctx, q, memberID, domain.EventKick)
}

func (l *Ledger) remove(ctx context.Context, q domain.Queue, memberID, reason string) (LeaveResult, error) {
	key := domain.MemberKey{QueueID: q.ID, MemberID: memberID}
	unlockNS := l.ns.RLock(q.ID)
	unlock := l.keys.Lock(key)

	if _, ok := l.get(key); !ok {
		unlock()
		unlockNS()
		return LeaveResult{Queue: q}, domain.ErrNotMember
	}
	if err := l.handles.Intent(ctx, q.Handle, key); err != nil {
		unlock()
		unlockNS()
		return LeaveResult{Queue: q}, fmt.Errorf("journal revoke: %w", err)
	}
	if _, err := l.repo.Delete(ctx, q.ID, memberID); err != nil {
		unlock()
		unlockNS()
		return LeaveResult{Queue: q}, fmt.Errorf("delete membership: %w", err)
	}
	l.sched.Cancel(key)
	l.del(key)
	unlock()
	unlockNS()

	res := LeaveResult{Queue: q}
	if err := l.handles.Sync(ctx, q.Handle, key); err != nil {
		res.Warning = err
	}
	l.metrics.removals.WithLabelValues(reason).Inc()
	l.record(ctx, domain.Event{GuildID: q.GuildID, QueueID: q.ID, MemberID: memberID, Kind: reason})
	l.log.Info("[ledger] removed", "guild", q.GuildID, "queue", q.Name, "member", memberID, "reason", reason)
	return res, nil
}

// expire lo llama el scheduler. Si la generación cambió (refresh o leave) no hace nada.
func (l *Ledger) expire(key domain.MemberKey, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), l.fireTimeout)
	defer cancel()

	unlockNS := l.ns.RLock(key.QueueID)
	unlock := l.keys.Lock(key)
	m, ok := l.get(key)
	if !ok || m.Generation != gen {
		unlock()
		unlockNS()
		l.metrics.staleFires.Inc()
		return
	}
	q := l.queueOf(key.QueueID)
	if err := l.handles.Intent(ctx, q.Handle, key); err != nil {
		// sin intención la fila se queda: expires_at ya pasó y la rehidratación la vuelve a expirar
		l.log.Error("[ledger] expire: journal revoke, keeping row", "queue", key.QueueID, "member", key.MemberID, "err", err)
	} else if _, err := l.repo.Delete(ctx, key.QueueID, key.MemberID); err != nil {
		l.log.Error("[ledger] expire: delete membership", "queue", key.QueueID, "member", key.MemberID, "err", err)
	}
	l.del(key)
	unlock()
	unlockNS()

	if err := l.handles.Sync(ctx, q.Handle, key); err != nil {
		l.log.Warn("[ledger] expire: revoke deferred", "queue", key.QueueID, "member", key.MemberID, "err", err)
	}
	l.metrics.removals.WithLabelValues(domain.EventExpire).Inc()
	l.record(ctx, domain.Event{GuildID: m.GuildID, QueueID: key.QueueID, MemberID: key.MemberID, Kind: domain.EventExpire})
	l.log.Info("[ledger] expired", "guild", m.GuildID, "queue", q.Name, "member", key.MemberID)

	// el aviso va al home actual de la cola, si lo tiene
	if cur, err := l.queues.Get(ctx, key.QueueID); err == nil {
		q = cur
	}
	if target := q.Target(""); target != "" && l.notify != nil {
		msg := fmt.Sprintf("⌛ <@%s> salió de **%s** por tiempo.", key.MemberID, q.Name)
		if err := l.notify.Notify(ctx, target, msg); err != nil {
			l.log.Warn("[ledger] expire notify", "channel", target, "err", err)
		}
	}
}

// List devuelve las membresías activas, ordenadas por ingreso.
func (l *Ledger) List(ctx context.Context, guildID, name string) (domain.Queue, []MemberView, error) {
	q, err := resolveActive(ctx, l.queues, guildID, name)
	if err != nil {
		return domain.Queue{}, nil, err
	}
	now := l.clock.Now()

	l.mu.RLock()
	var out []MemberView
	if st, ok := l.state[q.ID]; ok {
		out = make([]MemberView, 0, len(st.members))
		for _, m := range st.members {
			out = append(out, MemberView{MemberID: m.MemberID, JoinedAt: m.JoinedAt, ExpiresAt: m.ExpiresAt, Remaining: m.Remaining(now)})
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].MemberID < out[j].MemberID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return q, out, nil
}

func (l *Ledger) IsMember(ctx context.Context, guildID, name, memberID string) (bool, error) {
	q, err := resolveActive(ctx, l.queues, guildID, name)
	if err != nil {
		return false, err
	}
	return l.has(domain.MemberKey{QueueID: q.ID, MemberID: memberID}), nil
}

// Drain cierra la cola y saca todas sus membresías bajo el lock de namespace.
// Después de esto los joins concurrentes ven NotFound. Un segundo Drain de la misma cola
// también ve NotFound.
func (l *Ledger) Drain(ctx context.Context, q domain.Queue) ([]domain.MemberKey, error) {
	unlock := l.ns.Lock(q.ID)
	defer unlock()

	if open, err := l.open(ctx, q.ID); err != nil {
		return nil, fmt.Errorf("check queue: %w", err)
	} else if !open {
		return nil, domain.ErrNotFound
	}

	// el rol se borra con la cola: con esta fila el reconciler termina el borrado si morimos
	op := domain.PendingOp{Kind: domain.OpDeleteQueue, GuildID: q.GuildID, QueueID: q.ID, HandleID: q.Handle.ID}
	if err := l.handles.record(ctx, op); err != nil {
		return nil, fmt.Errorf("journal delete: %w", err)
	}
	if err := l.queues.MarkDeleting(ctx, q.ID); err != nil {
		if rerr := l.handles.pending.Resolve(context.WithoutCancel(ctx), op.Kind, op.QueueID, ""); rerr != nil {
			l.log.Warn("[ledger] drain: resolve delete intent", "queue", q.ID, "err", rerr)
		}
		return nil, fmt.Errorf("mark deleting: %w", err)
	}

	l.mu.Lock()
	st := l.stateFor(q)
	st.closed = true
	keys := make([]domain.MemberKey, 0, len(st.members))
	for id := range st.members {
		keys = append(keys, domain.MemberKey{QueueID: q.ID, MemberID: id})
	}
	st.members = make(map[string]domain.Membership)
	l.mu.Unlock()

	for _, k := range keys {
		l.sched.Cancel(k)
	}
	l.metrics.removals.WithLabelValues(domain.EventDelete).Add(float64(len(keys)))
	l.metrics.activeMembers.Sub(float64(len(keys)))
	return keys, nil
}

// Forget suelta el estado de una cola cuyo registro ya se borró.
func (l *Ledger) Forget(queueID string) {
	unlock := l.ns.Lock(queueID)
	defer unlock()
	l.mu.Lock()
	delete(l.state, queueID)
	l.mu.Unlock()
}

// open: con estado en memoria manda el flag closed; sin estado (cola sin miembros
// todavía, o ya borrada) se pregunta a la base. Llamar con el lock de namespace tomado.
func (l *Ledger) open(ctx context.Context, queueID string) (bool, error) {
	l.mu.RLock()
	st, ok := l.state[queueID]
	l.mu.RUnlock()
	if ok {
		return !st.closed, nil
	}
	cur, err := l.queues.Get(ctx, queueID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cur.Status == domain.QueueActive, nil
}

// Close marca una cola como cerrada sin tocar la base (rehidratación de colas en borrado).
func (l *Ledger) Close(q domain.Queue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateFor(q).closed = true
}

// Rehydrate recarga las membresías persistidas al arrancar: las vencidas se expiran ya,
// el resto recibe un timer con el tiempo restante.
func (l *Ledger) Rehydrate(ctx context.Context) (restored, expired int, err error) {
	deleting, err := l.queues.ListDeleting(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list deleting queues: %w", err)
	}
	for _, q := range deleting {
		l.Close(q)
		// borrado a medias: que el reconciler lo termine aunque no haya quedado la fila
		op := domain.PendingOp{Kind: domain.OpDeleteQueue, GuildID: q.GuildID, QueueID: q.ID, HandleID: q.Handle.ID}
		if err := l.handles.record(ctx, op); err != nil {
			return 0, 0, fmt.Errorf("journal delete %s: %w", q.ID, err)
		}
	}

	all, err := l.repo.ListAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list memberships: %w", err)
	}

	now := l.clock.Now()
	queues := map[string]domain.Queue{}
	var due []domain.Membership
	var seeded []domain.MemberKey

	for _, m := range all {
		q, ok := queues[m.QueueID]
		if !ok {
			q, err = l.queues.Get(ctx, m.QueueID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return restored, expired, fmt.Errorf("get queue %s: %w", m.QueueID, err)
			}
			queues[m.QueueID] = q
		}
		if q.Status != domain.QueueActive {
			continue
		}
		m.Generation = l.gen.Add(1)
		l.put(q, m)
		seeded = append(seeded, m.Key())
		if !m.ExpiresAt.After(now) {
			due = append(due, m)
			continue
		}
		l.sched.Arm(m.Key(), m.Generation, m.ExpiresAt)
		restored++
	}
	// lo persistido se da por concedido; lo que quedó a medias tiene su intención y se repite abajo
	l.handles.Seed(seeded)

	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, m := range due {
		g.Go(func() error {
			l.expire(m.Key(), m.Generation)
			return nil
		})
	}
	_ = g.Wait()
	expired = len(due)

	replayed, err := l.replayIntents(ctx, queues)
	if err != nil {
		return restored, expired, err
	}

	l.log.Info("[ledger] rehydrated", "restored", restored, "expired", expired, "replayed", replayed, "closed_queues", len(deleting))
	return restored, expired, nil
}

// replayIntents aplica ya los sync_member que quedaron en pending_ops (grants o revokes
// que el proceso anterior no llegó a hacer). Los que fallan quedan para el reconciler.
func (l *Ledger) replayIntents(ctx context.Context, queues map[string]domain.Queue) (int, error) {
	ops, err := l.handles.pending.List(ctx, replayBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	n := 0
	for _, op := range ops {
		if op.Kind != domain.OpSyncMember {
			continue
		}
		q, ok := queues[op.QueueID]
		if !ok {
			if q, err = l.queues.Get(ctx, op.QueueID); err != nil {
				// cola borrada o error: el reconciler decide
				continue
			}
			queues[op.QueueID] = q
		}
		key := domain.MemberKey{QueueID: op.QueueID, MemberID: op.MemberID}
		if err := l.handles.Reconcile(ctx, q.Handle, key); err != nil {
			l.log.Warn("[ledger] replay intent", "queue", op.QueueID, "member", op.MemberID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

const replayBatch = 1000

func (l *Ledger) defaultMinutes(ctx context.Context, guildID string) (int, error) {
	st, err := l.settings.Get(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("guild settings: %w", err)
	}
	if st.DefaultMinutes > 0 {
		return st.DefaultMinutes, nil
	}
	return l.limits.DefaultMinutes, nil
}

func (l *Ledger) record(ctx context.Context, ev domain.Event) {
	if l.events == nil {
		return
	}
	ev.At = l.clock.Now()
	if err := l.events.Append(ctx, ev); err != nil {
		l.log.Warn("[ledger] event append", "kind", ev.Kind, "err", err)
	}
}

// ---------- estado en memoria ----------

func (l *Ledger) stateFor(q domain.Queue) *queueState {
	st, ok := l.state[q.ID]
	if !ok {
		st = &queueState{queue: q, members: make(map[string]domain.Membership)}
		l.state[q.ID] = st
	}
	return st
}

func (l *Ledger) get(key domain.MemberKey) (domain.Membership, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.state[key.QueueID]
	if !ok {
		return domain.Membership{}, false
	}
	m, ok := st.members[key.MemberID]
	return m, ok
}

func (l *Ledger) has(key domain.MemberKey) bool {
	_, ok := l.get(key)
	return ok
}

func (l *Ledger) put(q domain.Queue, m domain.Membership) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateFor(q)
	st.queue = q
	if _, ok := st.members[m.MemberID]; !ok {
		l.metrics.activeMembers.Inc()
	}
	st.members[m.MemberID] = m
}

func (l *Ledger) del(key domain.MemberKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.state[key.QueueID]; ok {
		if _, ok := st.members[key.MemberID]; ok {
			delete(st.members, key.MemberID)
			l.metrics.activeMembers.Dec()
		}
	}
}

func (l *Ledger) isClosed(queueID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.state[queueID]
	return ok && st.closed
}

func (l *Ledger) queueOf(queueID string) domain.Queue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if st, ok := l.state[queueID]; ok {
		return st.queue
	}
	return domain.Queue{ID: queueID}
}

// Count devuelve cuántas membresías vivas hay (todas las colas).
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, st := range l.state {
		n += len(st.members)
	}
	return n
}
