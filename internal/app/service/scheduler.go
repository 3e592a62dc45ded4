package service

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// ExpiryScheduler mantiene un timer por (cola, miembro). No es la fuente de verdad:
// al disparar sólo avisa al ledger con la generación con la que se armó.
type ExpiryScheduler struct {
	clock   clockwork.Clock
	fire    func(key domain.MemberKey, gen uint64)
	metrics *Metrics

	mu      sync.Mutex
	timers  map[domain.MemberKey]armedTimer
	stopped bool
}

type armedTimer struct {
	gen   uint64
	timer clockwork.Timer
}

func NewExpiryScheduler(clock clockwork.Clock, m *Metrics, fire func(domain.MemberKey, uint64)) *ExpiryScheduler {
	return &ExpiryScheduler{
		clock:   clock,
		fire:    fire,
		metrics: m,
		timers:  make(map[domain.MemberKey]armedTimer),
	}
}

// Arm reemplaza cualquier timer previo de la clave (cancel-then-arm).
func (s *ExpiryScheduler) Arm(key domain.MemberKey, gen uint64, at time.Time) {
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	s.timers[key] = armedTimer{
		gen:   gen,
		timer: s.clock.AfterFunc(d, func() { s.expired(key, gen) }),
	}
	s.metrics.armedTimers.Set(float64(len(s.timers)))
}

func (s *ExpiryScheduler) expired(key domain.MemberKey, gen uint64) {
	s.mu.Lock()
	if a, ok := s.timers[key]; ok && a.gen == gen {
		delete(s.timers, key)
		s.metrics.armedTimers.Set(float64(len(s.timers)))
	}
	stopped := s.stopped
	s.mu.Unlock()

	if stopped {
		return
	}
	s.fire(key, gen)
}

func (s *ExpiryScheduler) Cancel(key domain.MemberKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
		s.metrics.armedTimers.Set(float64(len(s.timers)))
	}
}

// Pending devuelve cuántos timers siguen armados.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop corta todos los timers en el shutdown; expires_at persistido sigue mandando.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, k)
	}
	s.metrics.armedTimers.Set(0)
}
