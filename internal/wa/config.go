package wa

import "time"

// Config — orchestrator tunables. Zero value is not usable; start from
// DefaultConfig and override.
type Config struct {
	// DedupGate
	DedupTTL        time.Duration
	DedupSweepEvery time.Duration

	// BurstBatcher
	QuietWindow time.Duration

	// TurnSerializer
	LockCeiling time.Duration

	// Outer bound for one whole turn against the remote session.
	TurnTimeout time.Duration

	// TurnExecutor: conflict cleanup
	ConflictPollInterval time.Duration
	ConflictPollAttempts int
	ConflictGrace        time.Duration

	// TurnExecutor: append retry
	AppendRetries int
	AppendBackoff time.Duration

	// TurnExecutor: completion poll and tool servicing
	UnitPollInterval time.Duration
	UnitPollAttempts int
	ToolRounds       int

	// HistoryPruner
	PruneThreshold int
	PruneKeep      int
}

func DefaultConfig() Config {
	return Config{
		DedupTTL:        5 * time.Minute,
		DedupSweepEvery: 60 * time.Second,

		QuietWindow: 2 * time.Second,

		LockCeiling: 120 * time.Second,

		TurnTimeout: 3 * time.Minute,

		ConflictPollInterval: time.Second,
		ConflictPollAttempts: 15,
		ConflictGrace:        3 * time.Second,

		AppendRetries: 2,
		AppendBackoff: 2 * time.Second,

		UnitPollInterval: time.Second,
		UnitPollAttempts: 60,
		ToolRounds:       3,

		PruneThreshold: 15,
		PruneKeep:      10,
	}
}
