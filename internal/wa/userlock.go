package wa

import (
	"log"
	"sync"
	"time"
)

// TurnSerializer guarantees at most one turn in flight per user. The
// remote session is the only shared mutable resource, and it must never
// see two concurrent mutations for the same user.
//
// A waiter blocked past the ceiling force-acquires the lock: the stuck
// holder is displaced and its eventual release is ignored. That is a
// liveness valve, not a correctness guarantee, and it is logged loudly.
// Locks are independent across users.
type TurnSerializer struct {
	ceiling time.Duration

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	held       bool
	gen        uint64 // bumps on every grant; stale releases carry an old gen
	acquiredAt time.Time
	waiters    []*lockWaiter // FIFO
}

type lockWaiter struct {
	ready chan uint64
}

func NewTurnSerializer(ceiling time.Duration) *TurnSerializer {
	return &TurnSerializer{
		ceiling: ceiling,
		locks:   make(map[string]*userLock),
	}
}

// WithLock runs fn while holding the user's lock. The lock is released
// on every exit path, including panic, so one stuck turn cannot starve
// the user forever.
func (s *TurnSerializer) WithLock(userID string, fn func()) {
	gen := s.acquire(userID)
	defer s.release(userID, gen)
	fn()
}

func (s *TurnSerializer) acquire(userID string) uint64 {
	s.mu.Lock()

	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}

	if !l.held {
		l.held = true
		l.gen++
		l.acquiredAt = time.Now()
		gen := l.gen
		s.mu.Unlock()
		return gen
	}

	w := &lockWaiter{ready: make(chan uint64, 1)}
	l.waiters = append(l.waiters, w)
	s.mu.Unlock()

	timer := time.NewTimer(s.ceiling)
	defer timer.Stop()

	select {
	case gen := <-w.ready:
		return gen
	case <-timer.C:
		return s.forceAcquire(userID, w)
	}
}

// forceAcquire takes the lock over a holder stuck past the ceiling.
// If a regular grant raced the timer, it wins.
func (s *TurnSerializer) forceAcquire(userID string, w *lockWaiter) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case gen := <-w.ready:
		return gen
	default:
	}

	l := s.locks[userID]
	for i, other := range l.waiters {
		if other == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}

	heldFor := time.Since(l.acquiredAt)
	log.Printf("[lock] WARN user=%s holder stuck %s past ceiling, forcing acquisition", userID, heldFor.Round(time.Second))

	l.held = true
	l.gen++
	l.acquiredAt = time.Now()
	return l.gen
}

func (s *TurnSerializer) release(userID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.locks[userID]
	if l == nil || l.gen != gen {
		// Displaced by a forced acquisition while we were stuck.
		log.Printf("[lock] WARN user=%s stale release ignored (lock was forcibly taken over)", userID)
		return
	}

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.gen++
		l.acquiredAt = time.Now()
		next.ready <- l.gen
		return
	}

	delete(s.locks, userID)
}
