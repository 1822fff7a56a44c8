package wa

import (
	"context"
	"log"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

// HistoryPruner trims the oldest session entries once the turn counter
// crosses the threshold, keeping a fixed tail. Cost control is
// approximate by design: individual delete failures are logged and
// skipped, and the reported count is the intended keep count either way.
type HistoryPruner struct {
	provider  ai.SessionProvider
	threshold int
	keep      int
}

func NewHistoryPruner(provider ai.SessionProvider, threshold, keep int) *HistoryPruner {
	return &HistoryPruner{provider: provider, threshold: threshold, keep: keep}
}

// MaybePrune trims the session when currentCount has reached the
// threshold. Returns the count to report and whether pruning ran.
func (p *HistoryPruner) MaybePrune(ctx context.Context, sessionID string, currentCount int) (int, bool) {
	if currentCount < p.threshold {
		return currentCount, false
	}

	// Newest first, so everything past the keep window is delete fodder.
	entries, err := p.provider.ListEntries(ctx, sessionID, currentCount+p.keep, "desc")
	if err != nil {
		log.Printf("[prune] WARN session=%s list entries failed, skipping: %v", sessionID, err)
		return currentCount, false
	}

	if len(entries) <= p.keep {
		return p.keep, true
	}

	deleted, failed := 0, 0
	for _, entry := range entries[p.keep:] {
		if err := p.provider.DeleteEntry(ctx, sessionID, entry.ID); err != nil {
			log.Printf("[prune] WARN session=%s delete entry=%s failed: %v", sessionID, entry.ID, err)
			failed++
			continue
		}
		deleted++
	}

	log.Printf("[prune] session=%s deleted=%d failed=%d kept=%d", sessionID, deleted, failed, p.keep)
	return p.keep, true
}
