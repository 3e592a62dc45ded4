package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

func mustEnter(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(eventually):
		t.Fatal("la llamada nunca llegó al adaptador")
	}
}

// restart corta el core actual (como si el proceso muriera) y levanta otro sobre la misma base.
func (h *harness) restart() {
	h.t.Helper()
	h.core.Ledger.Scheduler().Stop()
	h.core = h.newCore()
	_, _, err := h.core.Ledger.Rehydrate(context.Background())
	require.NoError(h.t, err)
}

func TestRestartBetweenPersistAndGrant(t *testing.T) {
	h := newHarness(t)
	q := h.mustCreate("ranked")

	entered, release := h.adapter.hold("grant")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.core.Ledger.Join(context.Background(), h.caller("alice"), "ranked", 30)
	}()
	mustEnter(t, entered)

	// la fila ya está y el rol no: queda la intención
	assert.True(t, h.members.has(q.ID, "alice"))
	_, ok := h.pending.get(domain.OpSyncMember, q.ID, "alice")
	require.True(t, ok)

	h.restart()
	assert.True(t, h.adapter.holds(q.Handle.ID, "alice"))
	assert.Equal(t, 1, h.adapter.grantCount(q.Handle.ID, "alice"))
	assert.Zero(t, h.pending.count())

	release()
	<-done
}

func TestRestartBetweenLeaveAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")
	_, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 30)
	require.NoError(t, err)

	entered, release := h.adapter.hold("revoke")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.core.Ledger.Leave(context.Background(), h.caller("alice"), "ranked")
	}()
	mustEnter(t, entered)
	assert.False(t, h.members.has(q.ID, "alice"))
	assert.True(t, h.adapter.holds(q.Handle.ID, "alice"))

	h.restart()
	assert.False(t, h.adapter.holds(q.Handle.ID, "alice"))
	assert.Equal(t, 1, h.adapter.revokeCount(q.Handle.ID, "alice"))
	assert.Zero(t, h.pending.count())
	assert.Zero(t, h.core.Ledger.Count())

	release()
	<-done
}

func TestRestartBetweenExpiryAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")
	_, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 5)
	require.NoError(t, err)

	entered, release := h.adapter.hold("revoke")
	defer release()
	h.clock.Advance(5 * time.Minute)
	mustEnter(t, entered)
	assert.False(t, h.members.has(q.ID, "alice"))

	h.restart()
	assert.False(t, h.adapter.holds(q.Handle.ID, "alice"))
	assert.Zero(t, h.pending.count())
}

func TestJoinFailsWhenIntentCannotBeWritten(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")

	h.pending.setFailRecord(func(op domain.PendingOp) error {
		if op.Kind == domain.OpSyncMember {
			return errors.New("db down")
		}
		return nil
	})

	_, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 30)
	require.Error(t, err)
	assert.False(t, h.members.has(q.ID, "alice"))
	assert.False(t, h.core.Ledger.has(domain.MemberKey{QueueID: q.ID, MemberID: "alice"}))
	assert.False(t, h.adapter.holds(q.Handle.ID, "alice"))
	assert.Zero(t, h.core.Ledger.Scheduler().Pending())
}

func TestFailureJournalIsRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")

	h.adapter.setFail(func(op, _, _ string) error {
		if op == "grant" {
			return domain.Transient("grant", errors.New("502"))
		}
		return nil
	})
	flaky := 2
	h.pending.setFailRecord(func(op domain.PendingOp) error {
		if op.LastError != "" && flaky > 0 {
			flaky--
			return errors.New("conn reset")
		}
		return nil
	})

	res, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 30)
	require.NoError(t, err)
	require.Error(t, res.Warning)

	op, ok := h.pending.get(domain.OpSyncMember, q.ID, "alice")
	require.True(t, ok)
	assert.Equal(t, 1, op.Attempts)
	assert.Contains(t, op.LastError, "502")
}

func TestLostFailureJournalStillReconciles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")

	h.adapter.setFail(func(op, _, _ string) error {
		if op == "grant" {
			return domain.Transient("grant", errors.New("502"))
		}
		return nil
	})
	h.pending.setFailRecord(func(op domain.PendingOp) error {
		if op.LastError != "" {
			return errors.New("db down")
		}
		return nil
	})

	res, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 30)
	require.NoError(t, err)
	require.Error(t, res.Warning)

	// el error no quedó escrito pero la intención sí
	op, ok := h.pending.get(domain.OpSyncMember, q.ID, "alice")
	require.True(t, ok)
	assert.Zero(t, op.Attempts)

	h.adapter.setFail(nil)
	h.pending.setFailRecord(nil)
	n, err := h.core.Reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.adapter.holds(q.Handle.ID, "alice"))
	assert.Zero(t, h.pending.count())
}

func TestReconcilerSkipsFreshIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")

	require.NoError(t, h.pending.Record(ctx, domain.PendingOp{
		Kind: domain.OpSyncMember, GuildID: testGuild, QueueID: q.ID, HandleID: q.Handle.ID, MemberID: "alice",
		UpdatedAt: h.clock.Now(),
	}))
	n, err := h.core.Reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, h.pending.count())
	assert.Zero(t, h.adapter.revokeCount(q.Handle.ID, "alice"))
}

func TestAttentionClearsOnLaterSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")

	h.adapter.setFail(func(op, _, _ string) error {
		if op == "grant" {
			return domain.Permanent("grant", errors.New("403 missing permissions"))
		}
		return nil
	})
	_, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 30)
	require.NoError(t, err)
	flagged, err := h.pending.ListAttention(ctx, testGuild, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)

	// el admin arregla los permisos y el bot se reinicia
	h.adapter.setFail(nil)
	h.restart()
	flagged, err = h.pending.ListAttention(ctx, testGuild, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1, "rehydrate no toca lo marcado")

	_, err = h.core.Ledger.Leave(ctx, h.caller("alice"), "ranked")
	require.NoError(t, err)
	flagged, err = h.pending.ListAttention(ctx, testGuild, 10)
	require.NoError(t, err)
	assert.Empty(t, flagged)
	assert.Zero(t, h.pending.count())
	assert.False(t, h.adapter.holds(q.Handle.ID, "alice"))
}

func TestJoinRacingDelete(t *testing.T) {
	for round := 0; round < 10; round++ {
		h := newHarness(t)
		ctx := context.Background()
		q := h.mustCreate("ranked")
		_, err := h.core.Ledger.Join(ctx, h.caller("seed"), "ranked", 30)
		require.NoError(t, err)

		const joiners = 8
		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			joinErrs = make([]error, joiners)
			delErrs  = make([]error, 2)
		)
		for i := 0; i < joiners; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, joinErrs[i] = h.core.Ledger.Join(ctx, h.caller(fmt.Sprintf("m%d", i)), "ranked", 30)
			}()
		}
		for i := range delErrs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, delErrs[i] = h.core.Registry.Delete(ctx, testGuild, "ranked")
			}()
		}
		close(start)
		wg.Wait()

		ok := 0
		for _, err := range delErrs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrNotFound, "round %d", round)
		}
		assert.Equal(t, 1, ok, "round %d: un solo delete gana", round)
		assert.Equal(t, 1, h.adapter.deletes, "round %d", round)

		for i, err := range joinErrs {
			m := fmt.Sprintf("m%d", i)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrNotFound, "round %d: %s", round, m)
			}
			// entró antes del drain o no entró: en ningún caso queda con rol ni fila
			assert.False(t, h.adapter.holds(q.Handle.ID, m), "round %d: %s", round, m)
			assert.False(t, h.members.has(q.ID, m), "round %d: %s", round, m)
		}
		assert.False(t, h.adapter.exists(q.Handle.ID))
		assert.Zero(t, h.core.Ledger.Count())
		assert.Zero(t, h.core.Ledger.Scheduler().Pending())
		assert.Zero(t, h.pending.count(), "round %d", round)
	}
}

func TestDeleteDropsQueueState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.mustCreate("ranked")
	_, err := h.core.Ledger.Join(ctx, h.caller("alice"), "ranked", 30)
	require.NoError(t, err)

	_, err = h.core.Registry.Delete(ctx, testGuild, "ranked")
	require.NoError(t, err)

	h.core.Ledger.mu.RLock()
	_, kept := h.core.Ledger.state[q.ID]
	h.core.Ledger.mu.RUnlock()
	assert.False(t, kept)

	// sin estado en memoria la base sigue mandando
	_, err = h.core.Ledger.Drain(ctx, q)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	open, err := h.core.Ledger.open(ctx, q.ID)
	require.NoError(t, err)
	assert.False(t, open)
}
