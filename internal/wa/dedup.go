package wa

import (
	"log"
	"sync"
	"time"
)

// DedupGate rejects webhook re-deliveries of an already-seen event id.
// Pure in-memory: it cannot fail, only reject. A background sweep drops
// entries past the TTL so the set stays bounded.
type DedupGate struct {
	mu   sync.Mutex
	seen map[string]time.Time

	ttl   time.Duration
	nowFn func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewDedupGate(ttl, sweepEvery time.Duration) *DedupGate {
	g := &DedupGate{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		nowFn: time.Now,
		done:  make(chan struct{}),
	}

	go func() {
		t := time.NewTicker(sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				g.sweep()
			case <-g.done:
				return
			}
		}
	}()

	return g
}

// Admit atomically checks-and-inserts eventID. False means the id was
// seen within the TTL and the event must be dropped.
func (g *DedupGate) Admit(eventID string) bool {
	now := g.nowFn()

	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.seen[eventID]; ok && now.Sub(at) < g.ttl {
		return false
	}
	g.seen[eventID] = now
	return true
}

func (g *DedupGate) sweep() {
	now := g.nowFn()

	g.mu.Lock()
	removed := 0
	for id, at := range g.seen {
		if now.Sub(at) >= g.ttl {
			delete(g.seen, id)
			removed++
		}
	}
	remaining := len(g.seen)
	g.mu.Unlock()

	if removed > 0 {
		log.Printf("[dedup] swept %d expired ids, %d tracked", removed, remaining)
	}
}

func (g *DedupGate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}
