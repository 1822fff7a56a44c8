package wa

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

// service wires the pipeline: dedup → batch → per-user lock → session →
// executor → pruner → outbound. Each stage owns its own state; the
// service only moves a turn from one stage to the next.
type service struct {
	cfg      Config
	dedup    *DedupGate
	batcher  *BurstBatcher
	locks    *TurnSerializer
	sessions *SessionStore
	executor *TurnExecutor
	pruner   *HistoryPruner
	outbound Outbound
}

func NewService(repo SessionRepo, provider ai.SessionProvider, tools *ai.ToolSet, outbound Outbound, cfg Config) Service {
	s := &service{
		cfg:      cfg,
		dedup:    NewDedupGate(cfg.DedupTTL, cfg.DedupSweepEvery),
		locks:    NewTurnSerializer(cfg.LockCeiling),
		sessions: NewSessionStore(repo, provider),
		executor: NewTurnExecutor(provider, tools, cfg),
		pruner:   NewHistoryPruner(provider, cfg.PruneThreshold, cfg.PruneKeep),
		outbound: outbound,
	}
	s.batcher = NewBurstBatcher(cfg.QuietWindow, s.runTurn)
	return s
}

func (s *service) HandleIncoming(ev Event) {
	if ev.EventID == "" || ev.UserID == "" {
		return
	}

	if !s.dedup.Admit(ev.EventID) {
		log.Printf("[wa] duplicate event=%s user=%s dropped", ev.EventID, ev.UserID)
		return
	}

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	s.batcher.Enqueue(ev)
}

// runTurn is the batcher's flush target. It runs on the quiet-window
// timer goroutine, so blocking here on the user lock is exactly the
// serialization the remote session needs.
func (s *service) runTurn(userID, combined string, events []Event) {
	if strings.TrimSpace(combined) == "" {
		return
	}

	turnID := uuid.NewString()
	log.Printf("[wa] turn=%s user=%s messages=%d", turnID, userID, len(events))

	s.locks.WithLock(userID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TurnTimeout)
		defer cancel()

		sessionID, err := s.sessions.GetOrCreate(ctx, userID)
		if err != nil {
			s.failTurn(turnID, userID, err)
			return
		}

		reply, err := s.executor.Run(ctx, sessionID, userID, combined)
		if err != nil {
			s.failTurn(turnID, userID, err)
			return
		}

		count := s.sessions.RecordTurn(ctx, userID)
		if newCount, pruned := s.pruner.MaybePrune(ctx, sessionID, count); pruned {
			s.sessions.MarkPruned(ctx, userID, newCount)
		}

		if err := s.outbound.SendText(ctx, userID, reply); err != nil {
			log.Printf("[wa] turn=%s user=%s outbound send failed: %v", turnID, userID, err)
			return
		}
		log.Printf("[wa] turn=%s user=%s replied (%d chars)", turnID, userID, len(reply))
	})
}

// failTurn reports exactly one error-class notice for the turn. It uses
// a fresh context: the turn's own context may already be dead, and the
// user still deserves the notice.
func (s *service) failTurn(turnID, userID string, err error) {
	class := ClassOf(err)
	log.Printf("[wa] turn=%s user=%s failed class=%s: %v", turnID, userID, class, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.outbound.SendErrorNotice(ctx, userID, class); err != nil {
		log.Printf("[wa] turn=%s user=%s error notice failed: %v", turnID, userID, err)
	}
}

func (s *service) ClearContext(ctx context.Context, userID string) error {
	return s.sessions.Clear(ctx, userID)
}

func (s *service) Stop() {
	s.batcher.Stop()
	s.dedup.Close()
}
