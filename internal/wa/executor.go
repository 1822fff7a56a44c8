package wa

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

// TurnExecutor drives one combined turn against the remote session:
// settle conflicting in-flight units, append the turn text (retrying
// the narrow append race), start a unit, poll it to completion while
// servicing tool calls, and extract the reply.
//
// Every wait in here is bounded. Failures come back as *TurnError so
// the outbound side can pick a message per class; the executor never
// decides wording.
type TurnExecutor struct {
	provider ai.SessionProvider
	tools    *ai.ToolSet
	cfg      Config
}

func NewTurnExecutor(provider ai.SessionProvider, tools *ai.ToolSet, cfg Config) *TurnExecutor {
	return &TurnExecutor{provider: provider, tools: tools, cfg: cfg}
}

// Run executes one turn. An empty reply with a nil error means the
// assistant completed without producing text.
func (e *TurnExecutor) Run(ctx context.Context, sessionID, userID, combinedText string) (string, error) {
	// Append with retry: the conflict settle re-runs before every
	// attempt, since "active unit" rejections mean a unit slipped in
	// (or survived) between settle and append.
	var appendErr error
	for attempt := 0; attempt <= e.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[turn] session=%s append conflict, retry %d/%d", sessionID, attempt, e.cfg.AppendRetries)
			if err := sleepCtx(ctx, e.cfg.AppendBackoff); err != nil {
				return "", classify(err)
			}
		}

		e.settleConflicts(ctx, sessionID)

		appendErr = e.provider.AppendEntry(ctx, sessionID, combinedText, map[string]string{"user_id": userID})
		if appendErr == nil {
			break
		}
		if !errors.Is(appendErr, ai.ErrActiveUnit) {
			return "", classify(appendErr)
		}
	}
	if appendErr != nil {
		return "", turnErr(ClassConflictExhausted, appendErr)
	}

	unitID, err := e.provider.CreateUnit(ctx, sessionID, userID)
	if err != nil {
		return "", classify(err)
	}

	if terr := e.pollUnit(ctx, sessionID, unitID); terr != nil {
		return "", terr
	}

	return e.extractReply(ctx, sessionID, unitID)
}

// settleConflicts cancels every non-terminal unit on the session and
// polls until they settle. If they refuse to die within the poll budget
// plus one grace period, we proceed anyway: the append retry above is
// the backstop, and bounding latency beats guaranteed quiescence here.
func (e *TurnExecutor) settleConflicts(ctx context.Context, sessionID string) {
	units, err := e.provider.ListUnits(ctx, sessionID)
	if err != nil {
		log.Printf("[turn] WARN session=%s list units failed, proceeding: %v", sessionID, err)
		return
	}

	active := 0
	for _, u := range units {
		if u.Status.Terminal() {
			continue
		}
		active++
		if err := e.provider.CancelUnit(ctx, sessionID, u.ID); err != nil {
			log.Printf("[turn] WARN session=%s cancel unit=%s failed: %v", sessionID, u.ID, err)
		}
	}
	if active == 0 {
		return
	}

	log.Printf("[turn] session=%s cancelling %d in-flight units", sessionID, active)

	for attempt := 0; attempt < e.cfg.ConflictPollAttempts; attempt++ {
		if err := sleepCtx(ctx, e.cfg.ConflictPollInterval); err != nil {
			return
		}

		units, err = e.provider.ListUnits(ctx, sessionID)
		if err != nil {
			log.Printf("[turn] WARN session=%s list units failed during settle: %v", sessionID, err)
			continue
		}

		settled := true
		for _, u := range units {
			if !u.Status.Terminal() {
				settled = false
				break
			}
		}
		if settled {
			return
		}
	}

	log.Printf("[turn] WARN session=%s units still active after settle budget, grace then proceed", sessionID)
	_ = sleepCtx(ctx, e.cfg.ConflictGrace)
}

func (e *TurnExecutor) pollUnit(ctx context.Context, sessionID, unitID string) *TurnError {
	rounds := 0

	for attempt := 0; attempt < e.cfg.UnitPollAttempts; attempt++ {
		unit, err := e.provider.GetUnit(ctx, sessionID, unitID)
		if err != nil {
			return classify(err)
		}

		switch {
		case unit.Status == ai.UnitCompleted:
			return nil

		case unit.Status == ai.UnitRequiresAction && len(unit.ToolCalls) > 0:
			rounds++
			if rounds > e.cfg.ToolRounds {
				return turnErr(ClassToolLoopExhausted,
					fmt.Errorf("unit %s required %d tool rounds, budget is %d", unitID, rounds, e.cfg.ToolRounds))
			}

			log.Printf("[turn] unit=%s tool round %d/%d (%d calls)", unitID, rounds, e.cfg.ToolRounds, len(unit.ToolCalls))
			outputs := e.tools.Run(ctx, unit.ToolCalls)
			if err := e.provider.SubmitToolOutputs(ctx, sessionID, unitID, outputs); err != nil {
				return classify(err)
			}

		case unit.Status.Terminal():
			return remoteFailure(unit)
		}

		if err := sleepCtx(ctx, e.cfg.UnitPollInterval); err != nil {
			return classify(err)
		}
	}

	return turnErr(ClassTimeout,
		fmt.Errorf("unit %s not terminal after %d polls", unitID, e.cfg.UnitPollAttempts))
}

// extractReply fetches the newest assistant entry produced by this
// unit. No entry is not an error: the assistant may complete silently.
func (e *TurnExecutor) extractReply(ctx context.Context, sessionID, unitID string) (string, error) {
	entries, err := e.provider.ListEntries(ctx, sessionID, 10, "desc")
	if err != nil {
		return "", classify(err)
	}

	for _, entry := range entries {
		if entry.Role != "assistant" {
			continue
		}
		if entry.UnitID == "" || entry.UnitID == unitID {
			return entry.Text, nil
		}
	}

	log.Printf("[turn] unit=%s completed with no assistant entry", unitID)
	return "", nil
}

// remoteFailure classifies a unit that ended in a terminal status other
// than completed.
func remoteFailure(unit ai.Unit) *TurnError {
	err := fmt.Errorf("unit %s ended %s: %s", unit.ID, unit.Status, unit.ErrMessage)

	switch {
	case unit.ErrCode == "rate_limit_exceeded":
		return &TurnError{Class: ClassRateLimited, Code: unit.ErrCode, Err: err}
	case strings.Contains(unit.ErrCode, "invalid"):
		return &TurnError{Class: ClassConfigInvalid, Code: unit.ErrCode, Err: err}
	case unit.Status == ai.UnitExpired:
		return &TurnError{Class: ClassTimeout, Code: unit.ErrCode, Err: err}
	default:
		code := unit.ErrCode
		if code == "" {
			code = string(unit.Status)
		}
		return &TurnError{Class: ClassRemoteFailed, Code: code, Err: err}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
