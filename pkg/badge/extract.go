package badge

import "fmt"

// Extract derives the badge set from a snapshot: one badge per category
// where the item currently ranks #1. The second return value is false when
// the snapshot carries no usable rank data at all, so callers can record a
// data-quality problem instead of treating the item as having lost
// everything. Extract never fails on partially missing data; upstream
// completeness cannot be guaranteed run to run.
func Extract(s Snapshot) (BadgeSet, bool) {
	set := BadgeSet{
		ASIN:   s.ASIN,
		Badges: make(map[string]Badge),
		Ranks:  make(map[string]int, len(s.Ranks)),
	}

	if len(s.Ranks) == 0 {
		return set, false
	}

	for catID, rank := range s.Ranks {
		if rank <= 0 {
			// Keepa uses -1 for "no rank data"; not an observation.
			continue
		}
		set.Ranks[catID] = rank
		if rank == 1 {
			set.Badges[catID] = Badge{
				CategoryID:   catID,
				CategoryName: CategoryName(s, catID),
				Rank:         rank,
			}
		}
	}

	if len(set.Ranks) == 0 {
		return set, false
	}
	return set, true
}

// CategoryName resolves a display name for a category id, falling back to
// a synthetic "Category <id>" label when the category tree did not
// include it.
func CategoryName(s Snapshot, catID string) string {
	if name, ok := s.CategoryNames[catID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("Category %s", catID)
}
