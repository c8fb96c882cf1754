package badge

import "time"

// Snapshot is one observation of one tracked ASIN, normalized at the Keepa
// boundary. Immutable once created; one per (item, fetch) pair.
type Snapshot struct {
	ASIN      string
	FetchedAt time.Time

	Title string
	Brand string

	// Ranks maps category id to the current sales rank in that category.
	Ranks map[string]int
	// CategoryNames maps category id to its display name, where known.
	CategoryNames map[string]string

	// MonthlySold is Keepa's monthly sales estimate; 0 when absent.
	MonthlySold int

	// Raw is the original per-product JSON, retained for audit.
	Raw string
}

// Badge is rank #1 in a single category.
type Badge struct {
	CategoryID   string
	CategoryName string
	Rank         int
}

// BadgeSet is the derived Best Seller state of one item at one point in
// time: the rank-1 categories plus every observed rank, which the differ
// needs to tell a genuine loss apart from a data gap.
type BadgeSet struct {
	ASIN string
	// Badges maps category id to the badge held there.
	Badges map[string]Badge
	// Ranks maps category id to the observed rank for all categories the
	// snapshot reported, badge or not.
	Ranks map[string]int
}

// Transition kinds.
const (
	KindGained = "gained"
	KindLost   = "lost"
)

// Transition is a detected badge gain or loss in one category. Created only
// by Diff; immutable afterwards except for the notification-sent flag,
// which the store flips false->true exactly once on confirmed delivery.
type Transition struct {
	ID    int64
	RunID string

	ASIN         string
	CategoryID   string
	CategoryName string
	Kind         string // gained | lost

	// RankBefore and RankAfter use 0 for "unknown": a gain from an
	// untracked category has no before-rank, and a loss to an unranked
	// position has no after-rank.
	RankBefore int
	RankAfter  int

	DetectedAt       time.Time
	NotificationSent bool
}
