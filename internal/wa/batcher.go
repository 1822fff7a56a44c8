package wa

import (
	"log"
	"strings"
	"sync"
	"time"
)

// BurstBatcher buffers rapid consecutive messages from the same user and
// merges them into a single combined turn after a quiet window elapses.
// A user typing five short messages produces one assistant call, not five.
type BurstBatcher struct {
	window  time.Duration
	flushFn func(userID, combined string, events []Event)

	mu      sync.Mutex
	pending map[string]*pendingTurn
}

// pendingTurn accumulates messages while the quiet-window timer keeps
// being pushed back. Once flushed it is removed from the map, so a
// message landing mid-turn starts a fresh pendingTurn instead of
// mutating the one already handed off.
type pendingTurn struct {
	events []Event
	timer  *time.Timer
}

func NewBurstBatcher(window time.Duration, flushFn func(userID, combined string, events []Event)) *BurstBatcher {
	return &BurstBatcher{
		window:  window,
		flushFn: flushFn,
		pending: make(map[string]*pendingTurn),
	}
}

// Enqueue appends ev to the user's pending turn and restarts the quiet
// window. Fire-and-forget: it never blocks on turn execution.
func (b *BurstBatcher) Enqueue(ev Event) {
	b.mu.Lock()

	turn, ok := b.pending[ev.UserID]
	if !ok {
		turn = &pendingTurn{}
		b.pending[ev.UserID] = turn
	}
	turn.events = append(turn.events, ev)

	if turn.timer != nil {
		turn.timer.Stop()
	}
	userID := ev.UserID
	turn.timer = time.AfterFunc(b.window, func() {
		b.flushUser(userID)
	})

	buffered := len(turn.events)
	b.mu.Unlock()

	if buffered > 1 {
		log.Printf("[batch] user=%s buffered=%d, window restarted", ev.UserID, buffered)
	}
}

// Stop flushes every pending turn immediately. Shutdown path only.
func (b *BurstBatcher) Stop() {
	b.mu.Lock()
	users := make([]string, 0, len(b.pending))
	for u := range b.pending {
		users = append(users, u)
	}
	b.mu.Unlock()

	for _, u := range users {
		b.flushUser(u)
	}
}

func (b *BurstBatcher) flushUser(userID string) {
	b.mu.Lock()
	turn, ok := b.pending[userID]
	if !ok || len(turn.events) == 0 {
		b.mu.Unlock()
		return
	}
	if turn.timer != nil {
		turn.timer.Stop()
	}
	events := turn.events
	delete(b.pending, userID)
	b.mu.Unlock()

	if len(events) > 1 {
		log.Printf("[batch] user=%s merged %d messages into one turn", userID, len(events))
	}

	b.flushFn(userID, combine(events), events)
}

// combine joins the message texts in arrival order, one blank line
// between them, so the assistant sees a single coherent prompt.
func combine(events []Event) string {
	parts := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Text != "" {
			parts = append(parts, ev.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
