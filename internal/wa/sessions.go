package wa

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

// SessionStore maps a user to their durable remote-session handle.
// Lookup order: memory, durable mirror, remote create. All durable
// writes are best-effort: a failed write degrades restart recovery but
// never the running process, which keeps the in-memory record
// authoritative until shutdown.
type SessionStore struct {
	repo     SessionRepo
	provider ai.SessionProvider

	mu    sync.Mutex
	cache map[string]*SessionRecord
}

func NewSessionStore(repo SessionRepo, provider ai.SessionProvider) *SessionStore {
	return &SessionStore{
		repo:     repo,
		provider: provider,
		cache:    make(map[string]*SessionRecord),
	}
}

// GetOrCreate resolves the user's session id, creating a remote session
// on first contact. Callers hold the user's turn lock, so two creates
// for one user cannot race within this process.
func (s *SessionStore) GetOrCreate(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	if rec, ok := s.cache[userID]; ok {
		s.mu.Unlock()
		return rec.SessionID, nil
	}
	s.mu.Unlock()

	rec, err := s.repo.Get(ctx, userID)
	if err != nil {
		log.Printf("[session] WARN user=%s mirror read failed: %v", userID, err)
	}
	if rec != nil {
		s.mu.Lock()
		s.cache[userID] = rec
		s.mu.Unlock()
		log.Printf("[session] user=%s recovered session=%s count=%d", userID, rec.SessionID, rec.MessageCount)
		return rec.SessionID, nil
	}

	sessionID, err := s.provider.CreateSession(ctx, map[string]string{"user_id": userID})
	if err != nil {
		return "", fmt.Errorf("create session for %s: %w", userID, err)
	}

	rec = &SessionRecord{
		UserID:          userID,
		SessionID:       sessionID,
		LastInteraction: time.Now(),
	}

	s.mu.Lock()
	s.cache[userID] = rec
	s.mu.Unlock()

	s.mirror(ctx, rec)
	log.Printf("[session] user=%s created session=%s", userID, sessionID)
	return sessionID, nil
}

// RecordTurn bumps the turn counter used for pruning decisions and
// returns the new count.
func (s *SessionStore) RecordTurn(ctx context.Context, userID string) int {
	s.mu.Lock()
	rec, ok := s.cache[userID]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	rec.MessageCount++
	rec.LastInteraction = time.Now()
	snapshot := *rec
	s.mu.Unlock()

	s.mirror(ctx, &snapshot)
	return snapshot.MessageCount
}

// MarkPruned resets the counter after the pruner trimmed the session.
func (s *SessionStore) MarkPruned(ctx context.Context, userID string, newCount int) {
	now := time.Now()

	s.mu.Lock()
	rec, ok := s.cache[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.MessageCount = newCount
	rec.LastPruneAt = &now
	snapshot := *rec
	s.mu.Unlock()

	s.mirror(ctx, &snapshot)
}

// Clear drops the user's record from memory and the mirror. The next
// message starts a brand-new remote session.
func (s *SessionStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("clear mirror for %s: %w", userID, err)
	}
	log.Printf("[session] user=%s context cleared", userID)
	return nil
}

func (s *SessionStore) mirror(ctx context.Context, rec *SessionRecord) {
	if err := s.repo.Upsert(ctx, rec); err != nil {
		log.Printf("[session] WARN user=%s mirror write failed, memory stays authoritative: %v", rec.UserID, err)
	}
}
