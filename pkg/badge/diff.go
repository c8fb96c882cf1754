package badge

import (
	"sort"
	"strconv"
	"time"
)

// Diff compares the previous and current badge sets of one item and
// returns the resulting transitions: gained events first, then lost
// events, each sorted by ascending category id. The output is fully
// deterministic for a given input pair.
//
// An empty previous set means this is the first observation of the item;
// every current badge is reported as gained. That is a deliberate
// first-sight notification, not a bootstrap artifact to suppress.
//
// A previous badge whose category is absent from the current set's
// observed ranks produces no event: the category dropping out of the
// response entirely is a data gap, not evidence the badge was lost. A
// loss is only reported when the category is still observed at a rank
// worse than 1.
func Diff(prev, curr BadgeSet, at time.Time) []Transition {
	var gained, lost []Transition

	for catID, b := range curr.Badges {
		if _, had := prev.Badges[catID]; had {
			continue
		}
		gained = append(gained, Transition{
			ASIN:         curr.ASIN,
			CategoryID:   catID,
			CategoryName: b.CategoryName,
			Kind:         KindGained,
			RankBefore:   prev.Ranks[catID], // 0 when never observed before
			RankAfter:    1,
			DetectedAt:   at,
		})
	}

	for catID, b := range prev.Badges {
		if _, has := curr.Badges[catID]; has {
			continue
		}
		rankAfter, observed := curr.Ranks[catID]
		if !observed {
			continue // data gap, not a loss
		}
		lost = append(lost, Transition{
			ASIN:         prev.ASIN,
			CategoryID:   catID,
			CategoryName: b.CategoryName,
			Kind:         KindLost,
			RankBefore:   1,
			RankAfter:    rankAfter,
			DetectedAt:   at,
		})
	}

	sortTransitions(gained)
	sortTransitions(lost)
	return append(gained, lost...)
}

func sortTransitions(ts []Transition) {
	sort.Slice(ts, func(i, j int) bool {
		return lessCategoryID(ts[i].CategoryID, ts[j].CategoryID)
	})
}

// lessCategoryID orders category ids numerically when both parse as
// integers (Keepa ids are numeric), falling back to string order.
func lessCategoryID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
