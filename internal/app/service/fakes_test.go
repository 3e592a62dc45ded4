package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// ---------- repos en memoria ----------

type memMembers struct {
	mu   sync.Mutex
	rows map[domain.MemberKey]domain.Membership
}

func newMemMembers() *memMembers {
	return &memMembers{rows: map[domain.MemberKey]domain.Membership{}}
}

func (m *memMembers) Upsert(_ context.Context, mb domain.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb.Generation = 0
	m.rows[mb.Key()] = mb
	return nil
}

func (m *memMembers) Delete(_ context.Context, queueID, memberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := domain.MemberKey{QueueID: queueID, MemberID: memberID}
	_, ok := m.rows[k]
	delete(m.rows, k)
	return ok, nil
}

func (m *memMembers) ListAll(_ context.Context) ([]domain.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Membership, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memMembers) has(queueID, memberID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[domain.MemberKey{QueueID: queueID, MemberID: memberID}]
	return ok
}

type memQueues struct {
	mu        sync.Mutex
	rows      map[string]domain.Queue
	members   *memMembers
	insertErr error
}

func newMemQueues(members *memMembers) *memQueues {
	return &memQueues{rows: map[string]domain.Queue{}, members: members}
}

func (m *memQueues) Insert(_ context.Context, q domain.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, r := range m.rows {
		if r.GuildID == q.GuildID && r.CanonicalName == q.CanonicalName {
			return domain.ErrDuplicateName
		}
	}
	m.rows[q.ID] = q
	return nil
}

func (m *memQueues) Get(_ context.Context, id string) (domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rows[id]
	if !ok {
		return domain.Queue{}, domain.ErrNotFound
	}
	return q, nil
}

func (m *memQueues) GetByName(_ context.Context, guildID, canonical string) (domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.rows {
		if q.GuildID == guildID && q.CanonicalName == canonical {
			return q, nil
		}
	}
	return domain.Queue{}, domain.ErrNotFound
}

func (m *memQueues) ListByGuild(_ context.Context, guildID string) ([]domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Queue
	for _, q := range m.rows {
		if q.GuildID == guildID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memQueues) ListDeleting(_ context.Context) ([]domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Queue
	for _, q := range m.rows {
		if q.Status == domain.QueueDeleting {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memQueues) SetHome(_ context.Context, id, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	q.HomeChannelID = channelID
	m.rows[id] = q
	return nil
}

func (m *memQueues) MarkDeleting(_ context.Context, id string) error {
	m.mu.Lock()
	q, ok := m.rows[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	q.Status = domain.QueueDeleting
	m.rows[id] = q
	m.mu.Unlock()

	m.members.mu.Lock()
	for k := range m.members.rows {
		if k.QueueID == id {
			delete(m.members.rows, k)
		}
	}
	m.members.mu.Unlock()
	return nil
}

func (m *memQueues) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

type memSettings struct {
	mu   sync.Mutex
	def  int
	rows map[string]domain.GuildSettings
}

func newMemSettings(def int) *memSettings {
	return &memSettings{def: def, rows: map[string]domain.GuildSettings{}}
}

func (m *memSettings) Get(_ context.Context, guildID string) (domain.GuildSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[guildID]
	if !ok {
		st = domain.GuildSettings{GuildID: guildID, DefaultMinutes: m.def}
		m.rows[guildID] = st
	}
	return st, nil
}

func (m *memSettings) SetDefaultMinutes(ctx context.Context, guildID string, mins int) (domain.GuildSettings, error) {
	st, _ := m.Get(ctx, guildID)
	m.mu.Lock()
	defer m.mu.Unlock()
	st.DefaultMinutes = mins
	m.rows[guildID] = st
	return st, nil
}

type memPending struct {
	mu   sync.Mutex
	rows map[string]domain.PendingOp
	seq  int64
	// failRecord hace fallar Record para la op dada, o nil
	failRecord func(op domain.PendingOp) error
}

func newMemPending() *memPending { return &memPending{rows: map[string]domain.PendingOp{}} }

func pendingKey(kind, queueID, memberID string) string { return kind + "|" + queueID + "|" + memberID }

func (m *memPending) Record(_ context.Context, op domain.PendingOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		if err := m.failRecord(op); err != nil {
			return err
		}
	}
	// igual que el repo: sin error es una intención y no suma intentos
	bump := 1
	if op.LastError == "" {
		bump = 0
	}
	k := pendingKey(op.Kind, op.QueueID, op.MemberID)
	prev, ok := m.rows[k]
	if ok {
		op.ID = prev.ID
		op.Attempts = prev.Attempts + bump
		if op.LastError == "" {
			op.LastError = prev.LastError
		}
	} else {
		m.seq++
		op.ID = m.seq
		op.Attempts = bump
	}
	m.rows[k] = op
	return nil
}

func (m *memPending) setFailRecord(fn func(op domain.PendingOp) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRecord = fn
}

func (m *memPending) get(kind, queueID, memberID string) (domain.PendingOp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.rows[pendingKey(kind, queueID, memberID)]
	return op, ok
}

func (m *memPending) Resolve(_ context.Context, kind, queueID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, pendingKey(kind, queueID, memberID))
	return nil
}

func (m *memPending) List(_ context.Context, limit int) ([]domain.PendingOp, error) {
	return m.filter(func(op domain.PendingOp) bool { return !op.NeedsAttention }, limit), nil
}

func (m *memPending) ListAttention(_ context.Context, guildID string, limit int) ([]domain.PendingOp, error) {
	return m.filter(func(op domain.PendingOp) bool { return op.NeedsAttention && op.GuildID == guildID }, limit), nil
}

func (m *memPending) filter(keep func(domain.PendingOp) bool, limit int) []domain.PendingOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingOp
	for _, op := range m.rows {
		if keep(op) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memPending) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memEvents struct {
	mu  sync.Mutex
	evs []domain.Event
}

func (m *memEvents) Append(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evs = append(m.evs, ev)
	return nil
}

func (m *memEvents) Recent(_ context.Context, guildID, queueID string, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for i := len(m.evs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.evs[i].GuildID == guildID && m.evs[i].QueueID == queueID {
			out = append(out, m.evs[i])
		}
	}
	return out, nil
}

func (m *memEvents) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.evs))
	for _, ev := range m.evs {
		out = append(out, ev.Kind)
	}
	return out
}

// ---------- adaptador de handles falso ----------

type fakeAdapter struct {
	mu      sync.Mutex
	seq     int
	handles map[string]bool
	held    map[string]map[string]bool // handle -> miembros
	grants  map[string]int             // handle|member
	revokes map[string]int
	deletes int
	// fail devuelve un error para op/handle/member, o nil
	fail func(op, handleID, memberID string) error
	// gates frena la próxima llamada a op ("grant", "revoke") hasta que se libere
	gates map[string]*gate
}

type gate struct {
	entered chan struct{}
	release chan struct{}
}

// hold frena la próxima llamada a op. Devuelve un canal que se cierra cuando la llamada
// llegó al adaptador y una func que la deja seguir.
func (f *fakeAdapter) hold(op string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gates == nil {
		f.gates = map[string]*gate{}
	}
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.gates[op] = g
	var once sync.Once
	return g.entered, func() { once.Do(func() { close(g.release) }) }
}

// wait bloquea si hay un gate para op, fuera del mutex.
func (f *fakeAdapter) wait(ctx context.Context, op string) error {
	f.mu.Lock()
	g := f.gates[op]
	delete(f.gates, op)
	f.mu.Unlock()
	if g == nil {
		return nil
	}
	close(g.entered)
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		handles: map[string]bool{},
		held:    map[string]map[string]bool{},
		grants:  map[string]int{},
		revokes: map[string]int{},
	}
}

func (f *fakeAdapter) failure(op, handleID, memberID string) error {
	if f.fail == nil {
		return nil
	}
	return f.fail(op, handleID, memberID)
}

func (f *fakeAdapter) setFail(fn func(op, handleID, memberID string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

func (f *fakeAdapter) CreateHandle(_ context.Context, guildID, displayName string) (domain.HandleRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("create", "", ""); err != nil {
		return domain.HandleRef{}, err
	}
	f.seq++
	id := fmt.Sprintf("role-%d", f.seq)
	f.handles[id] = true
	f.held[id] = map[string]bool{}
	return domain.HandleRef{GuildID: guildID, ID: id}, nil
}

func (f *fakeAdapter) DeleteHandle(_ context.Context, ref domain.HandleRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("delete", ref.ID, ""); err != nil {
		return err
	}
	f.deletes++
	delete(f.handles, ref.ID)
	delete(f.held, ref.ID)
	return nil
}

func (f *fakeAdapter) Grant(ctx context.Context, ref domain.HandleRef, memberID string) error {
	if err := f.wait(ctx, "grant"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("grant", ref.ID, memberID); err != nil {
		return err
	}
	if f.held[ref.ID] == nil {
		f.held[ref.ID] = map[string]bool{}
	}
	f.held[ref.ID][memberID] = true
	f.grants[ref.ID+"|"+memberID]++
	return nil
}

func (f *fakeAdapter) Revoke(ctx context.Context, ref domain.HandleRef, memberID string) error {
	if err := f.wait(ctx, "revoke"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure("revoke", ref.ID, memberID); err != nil {
		return err
	}
	delete(f.held[ref.ID], memberID)
	f.revokes[ref.ID+"|"+memberID]++
	return nil
}

func (f *fakeAdapter) holds(handleID, memberID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[handleID][memberID]
}

func (f *fakeAdapter) grantCount(handleID, memberID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants[handleID+"|"+memberID]
}

func (f *fakeAdapter) revokeCount(handleID, memberID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokes[handleID+"|"+memberID]
}

func (f *fakeAdapter) exists(handleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[handleID]
}

type sentMessage struct {
	ChannelID string
	Content   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *fakeNotifier) Notify(_ context.Context, channelID, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{ChannelID: channelID, Content: content})
	return nil
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

// ---------- harness ----------

const testGuild = "g1"

var testLimits = Limits{DefaultMinutes: 60, MaxMinutes: 24 * 60}

type harness struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	members  *memMembers
	queues   *memQueues
	settings *memSettings
	pending  *memPending
	events   *memEvents
	adapter  *fakeAdapter
	notifier *fakeNotifier
	core     *Core
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	members := newMemMembers()
	h := &harness{
		t:        t,
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)),
		members:  members,
		queues:   newMemQueues(members),
		settings: newMemSettings(testLimits.DefaultMinutes),
		pending:  newMemPending(),
		events:   &memEvents{},
		adapter:  newFakeAdapter(),
		notifier: &fakeNotifier{},
	}
	h.core = h.newCore()
	t.Cleanup(func() { h.core.Ledger.Scheduler().Stop() })
	return h
}

// newCore arma un core nuevo sobre los mismos repos (simula un restart).
func (h *harness) newCore() *Core {
	return NewCore(CoreConfig{
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:       h.clock,
		Queues:      h.queues,
		Memberships: h.members,
		Settings:    h.settings,
		Pending:     h.pending,
		Events:      h.events,
		Adapter:     h.adapter,
		Notifier:    h.notifier,
		Limits:      testLimits,
		Retry:       RetryPolicy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxRetries: 3},
	})
}

func (h *harness) caller(member string) Caller {
	return Caller{GuildID: testGuild, MemberID: member, ChannelID: "chan-" + member}
}

func (h *harness) mustCreate(name string) domain.Queue {
	h.t.Helper()
	q, err := h.core.Registry.Create(context.Background(), testGuild, name)
	if err != nil {
		h.t.Fatalf("create %q: %v", name, err)
	}
	return q
}
