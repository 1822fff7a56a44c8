package ai

import (
	"context"
	"errors"
)

// UnitStatus — remote run lifecycle as reported by the provider.
type UnitStatus string

const (
	UnitQueued         UnitStatus = "queued"
	UnitInProgress     UnitStatus = "in_progress"
	UnitRequiresAction UnitStatus = "requires_action"
	UnitCompleted      UnitStatus = "completed"
	UnitFailed         UnitStatus = "failed"
	UnitCancelled      UnitStatus = "cancelled"
	UnitCancelling     UnitStatus = "cancelling"
	UnitExpired        UnitStatus = "expired"
)

// Terminal reports whether the unit can no longer change status.
func (s UnitStatus) Terminal() bool {
	switch s {
	case UnitCompleted, UnitFailed, UnitCancelled, UnitExpired:
		return true
	}
	return false
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON from the provider
}

type ToolOutput struct {
	CallID string
	Output string
}

// Unit — one remote unit of work bound to a session.
// ErrCode/ErrMessage are set only for failed terminal statuses.
type Unit struct {
	ID         string
	Status     UnitStatus
	ToolCalls  []ToolCall // pending, only while requires_action
	ErrCode    string
	ErrMessage string
}

type Entry struct {
	ID        string
	Role      string
	Text      string
	UnitID    string // unit that produced the entry, empty for user entries
	CreatedAt int64
}

// Sentinel errors the orchestrator classifies on. The client wraps
// provider responses into these so callers never touch provider types.
var (
	// ErrActiveUnit — the session rejected a mutation because a unit is
	// still running (append race against conflict cleanup).
	ErrActiveUnit = errors.New("session has an active unit")
	// ErrRateLimited — provider throttled the call.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrInvalidConfig — auth/model/assistant misconfiguration, not retryable.
	ErrInvalidConfig = errors.New("provider configuration invalid")
)

// SessionProvider — the remote stateful assistant, knows nothing about
// WhatsApp or the DB.
type SessionProvider interface {
	CreateSession(ctx context.Context, metadata map[string]string) (string, error)
	ListUnits(ctx context.Context, sessionID string) ([]Unit, error)
	CancelUnit(ctx context.Context, sessionID, unitID string) error
	AppendEntry(ctx context.Context, sessionID, text string, metadata map[string]string) error
	CreateUnit(ctx context.Context, sessionID, userID string) (string, error)
	GetUnit(ctx context.Context, sessionID, unitID string) (Unit, error)
	SubmitToolOutputs(ctx context.Context, sessionID, unitID string, outputs []ToolOutput) error
	ListEntries(ctx context.Context, sessionID string, limit int, order string) ([]Entry, error)
	DeleteEntry(ctx context.Context, sessionID, entryID string) error
}
