package monitor

import "sync"

// Summary is the aggregate outcome of one batch run.
type Summary struct {
	RunID             string
	ItemsAttempted    int
	ItemsSucceeded    int
	TransitionsFound  int
	NotificationsSent int
	CostTokens        int
	Errors            int
}

// Ledger accumulates run counters across concurrently processed groups.
// All methods are safe for concurrent use.
type Ledger struct {
	mu sync.Mutex
	s  Summary
}

func NewLedger(runID string) *Ledger {
	return &Ledger{s: Summary{RunID: runID}}
}

func (l *Ledger) Attempted(n int) {
	l.mu.Lock()
	l.s.ItemsAttempted += n
	l.mu.Unlock()
}

func (l *Ledger) Succeeded() {
	l.mu.Lock()
	l.s.ItemsSucceeded++
	l.mu.Unlock()
}

func (l *Ledger) Transitions(n int) {
	l.mu.Lock()
	l.s.TransitionsFound += n
	l.mu.Unlock()
}

func (l *Ledger) Notified() {
	l.mu.Lock()
	l.s.NotificationsSent++
	l.mu.Unlock()
}

func (l *Ledger) Cost(tokens int) {
	l.mu.Lock()
	l.s.CostTokens += tokens
	l.mu.Unlock()
}

func (l *Ledger) Errored() {
	l.mu.Lock()
	l.s.Errors++
	l.mu.Unlock()
}

func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}
