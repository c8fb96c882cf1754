package storage

import "time"

// TrackedItem is an ASIN under continuous monitoring. Items are never
// deleted, only deactivated, so history stays attributable.
type TrackedItem struct {
	ASIN            string
	Title           string
	IntervalMinutes int
	Priority        int // 1 = highest
	Active          bool
	CreatedAt       time.Time
	LastCheckedAt   time.Time // zero when never checked
}

// Batch run statuses.
const (
	RunRunning             = "running"
	RunCompleted           = "completed"
	RunCompletedWithErrors = "completed_with_errors"
	RunFailed              = "failed"
)

// BatchRun is the persisted outcome of one orchestrator invocation.
// Append-only once finalized.
type BatchRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time

	ItemsAttempted    int
	ItemsSucceeded    int
	TransitionsFound  int
	NotificationsSent int
	CostTokens        int

	Status string
}

// RunError is a per-item or per-group error captured during a run.
type RunError struct {
	RunID      string
	ASIN       string // empty for group-level errors
	Stage      string // fetch | extract | diff | notify | persist
	Message    string
	OccurredAt time.Time
}

// CostEntry is one row of the API cost ledger, one per fetch call.
type CostEntry struct {
	RunID          string
	RecordedAt     time.Time
	ASINsRequested int
	TokensConsumed int
	TokensLeft     int
}

// Stats is an aggregate summary for the stats command and status API.
type Stats struct {
	TrackedItems     int
	ActiveItems      int
	BadgesHeld       int
	TotalTransitions int
	TotalRuns        int
	TotalCostTokens  int
}
