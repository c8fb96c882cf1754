package badge

import (
	"reflect"
	"testing"
	"time"
)

var diffTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// mkSet builds a badge set where every listed category holds a badge, and
// every entry of ranks is an observed (category, rank) pair.
func mkSet(asin string, badges []string, ranks map[string]int) BadgeSet {
	set := BadgeSet{ASIN: asin, Badges: make(map[string]Badge), Ranks: make(map[string]int)}
	for _, c := range badges {
		set.Badges[c] = Badge{CategoryID: c, CategoryName: "Category " + c, Rank: 1}
		set.Ranks[c] = 1
	}
	for c, r := range ranks {
		set.Ranks[c] = r
	}
	return set
}

func TestDiffNoChange(t *testing.T) {
	a := mkSet("B000DIFF01", []string{"100", "200"}, nil)
	if got := Diff(a, a, diffTime); len(got) != 0 {
		t.Fatalf("expected no transitions for identical sets, got %v", got)
	}
}

func TestDiffDisjointSets(t *testing.T) {
	prev := mkSet("B000DIFF02", []string{"100", "200"}, nil)
	curr := mkSet("B000DIFF02", []string{"300", "400"}, map[string]int{"100": 7, "200": 3})

	got := Diff(prev, curr, diffTime)
	if len(got) != 4 {
		t.Fatalf("expected 4 transitions, got %d: %v", len(got), got)
	}

	var gained, lost int
	seen := map[string]string{}
	for _, tr := range got {
		if prevKind, dup := seen[tr.CategoryID]; dup {
			t.Fatalf("category %s appears twice (%s and %s)", tr.CategoryID, prevKind, tr.Kind)
		}
		seen[tr.CategoryID] = tr.Kind
		switch tr.Kind {
		case KindGained:
			gained++
		case KindLost:
			lost++
		}
	}
	if gained != 2 || lost != 2 {
		t.Fatalf("expected 2 gained + 2 lost, got %d gained %d lost", gained, lost)
	}
}

func TestDiffOrderingGainedFirstAscending(t *testing.T) {
	prev := mkSet("B000DIFF03", []string{"50", "9"}, nil)
	curr := mkSet("B000DIFF03", []string{"300", "21"}, map[string]int{"50": 4, "9": 12})

	got := Diff(prev, curr, diffTime)
	var order []string
	for _, tr := range got {
		order = append(order, tr.Kind+":"+tr.CategoryID)
	}
	// Numeric ascending within each kind: 21 before 300, 9 before 50.
	want := []string{"gained:21", "gained:300", "lost:9", "lost:50"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("unexpected ordering.\nwant: %v\ngot:  %v", want, order)
	}
}

func TestDiffDeterministic(t *testing.T) {
	prev := mkSet("B000DIFF04", []string{"1", "2", "3"}, nil)
	curr := mkSet("B000DIFF04", []string{"3", "4", "5"}, map[string]int{"1": 2, "2": 8})

	first := Diff(prev, curr, diffTime)
	for i := 0; i < 20; i++ {
		if again := Diff(prev, curr, diffTime); !reflect.DeepEqual(first, again) {
			t.Fatalf("diff is not deterministic:\nfirst: %v\nagain: %v", first, again)
		}
	}
}

func TestDiffSwapScenario(t *testing.T) {
	// Item held a badge in catA, new snapshot shows a badge in catB with
	// catA observed at rank 5: one lost for catA, one gained for catB,
	// gained first.
	prev := mkSet("B000DIFF05", []string{"111"}, nil)
	curr := mkSet("B000DIFF05", []string{"222"}, map[string]int{"111": 5})

	got := Diff(prev, curr, diffTime)
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got[0].Kind != KindGained || got[0].CategoryID != "222" || got[0].RankAfter != 1 {
		t.Fatalf("unexpected gained event: %+v", got[0])
	}
	if got[1].Kind != KindLost || got[1].CategoryID != "111" || got[1].RankBefore != 1 || got[1].RankAfter != 5 {
		t.Fatalf("unexpected lost event: %+v", got[1])
	}
}

func TestDiffFirstSightEmitsGained(t *testing.T) {
	prev := BadgeSet{ASIN: "B000DIFF06"}
	curr := mkSet("B000DIFF06", []string{"777"}, nil)

	got := Diff(prev, curr, diffTime)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 transition, got %v", got)
	}
	if got[0].Kind != KindGained || got[0].RankBefore != 0 {
		t.Fatalf("first sight must be gained with unknown rank-before: %+v", got[0])
	}
}

func TestDiffGainedKeepsKnownRankBefore(t *testing.T) {
	prev := mkSet("B000DIFF07", nil, map[string]int{"100": 3})
	curr := mkSet("B000DIFF07", []string{"100"}, nil)

	got := Diff(prev, curr, diffTime)
	if len(got) != 1 || got[0].RankBefore != 3 {
		t.Fatalf("expected gained with rank-before 3, got %v", got)
	}
}

func TestDiffMissingCategoryIsDataGap(t *testing.T) {
	// Badge category vanished from the response entirely: inconclusive,
	// no lost event.
	prev := mkSet("B000DIFF08", []string{"100"}, nil)
	curr := mkSet("B000DIFF08", nil, map[string]int{"200": 4})

	if got := Diff(prev, curr, diffTime); len(got) != 0 {
		t.Fatalf("expected no transitions for a data gap, got %v", got)
	}
}
