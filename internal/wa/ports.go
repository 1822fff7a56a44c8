package wa

import (
	"context"
	"time"
)

// Event — one inbound message after webhook parsing.
type Event struct {
	EventID    string
	UserID     string
	Text       string
	ReceivedAt time.Time
}

// SessionRecord — durable mirror of one user's remote session, used for
// restart recovery only. The in-memory copy is authoritative while the
// process lives.
type SessionRecord struct {
	UserID          string
	SessionID       string
	MessageCount    int
	LastInteraction time.Time
	LastPruneAt     *time.Time
}

// Outbound — delivery to the messaging provider. The executor only
// supplies an error class; wording lives behind this interface.
type Outbound interface {
	SendText(ctx context.Context, userID string, text string) error
	SendErrorNotice(ctx context.Context, userID string, class ErrorClass) error
}

// SessionRepo — persistence of the durable mirror.
type SessionRepo interface {
	Get(ctx context.Context, userID string) (*SessionRecord, error) // nil, nil on miss
	Upsert(ctx context.Context, rec *SessionRecord) error
	Delete(ctx context.Context, userID string) error
}

// Service — оркестрация: webhook events in, at most one reply per turn out.
type Service interface {
	// HandleIncoming admits and enqueues one event. Fire-and-forget:
	// duplicates are dropped silently, turn outcomes surface downstream.
	HandleIncoming(ev Event)
	// ClearContext drops the user's session everywhere (administrative).
	ClearContext(ctx context.Context, userID string) error
	// Stop drains pending batches and stops background sweeps.
	Stop()
}
