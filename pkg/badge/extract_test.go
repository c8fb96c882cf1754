package badge

import "testing"

func TestExtractOnlyRankOne(t *testing.T) {
	s := Snapshot{
		ASIN: "B000TEST01",
		Ranks: map[string]int{
			"100": 1,
			"200": 5,
			"300": 1,
			"400": 9999,
		},
		CategoryNames: map[string]string{
			"100": "Hard Drives",
			"300": "External Storage",
		},
	}

	set, ok := Extract(s)
	if !ok {
		t.Fatal("expected usable rank data")
	}
	if len(set.Badges) != 2 {
		t.Fatalf("expected 2 badges, got %d: %v", len(set.Badges), set.Badges)
	}
	for catID, b := range set.Badges {
		if b.Rank != 1 {
			t.Fatalf("badge for %s has rank %d, want 1", catID, b.Rank)
		}
	}
	if _, has := set.Badges["100"]; !has {
		t.Fatal("missing badge for category 100")
	}
	if _, has := set.Badges["300"]; !has {
		t.Fatal("missing badge for category 300")
	}
	if len(set.Ranks) != 4 {
		t.Fatalf("expected all 4 observed ranks retained, got %d", len(set.Ranks))
	}
}

func TestExtractEmptyRanksFlagsDataQuality(t *testing.T) {
	set, ok := Extract(Snapshot{ASIN: "B000TEST02"})
	if ok {
		t.Fatal("expected data-quality flag for snapshot without ranks")
	}
	if len(set.Badges) != 0 {
		t.Fatalf("expected empty badge set, got %v", set.Badges)
	}
}

func TestExtractIgnoresSentinelRanks(t *testing.T) {
	// Keepa reports -1 when it has no rank data for a category.
	set, ok := Extract(Snapshot{
		ASIN:  "B000TEST03",
		Ranks: map[string]int{"100": -1, "200": -1},
	})
	if ok {
		t.Fatal("expected data-quality flag when every rank is a sentinel")
	}
	if len(set.Ranks) != 0 {
		t.Fatalf("sentinel ranks must not count as observations: %v", set.Ranks)
	}
}

func TestCategoryNameFallback(t *testing.T) {
	s := Snapshot{
		ASIN:          "B000TEST04",
		Ranks:         map[string]int{"5522886011": 1},
		CategoryNames: map[string]string{},
	}
	set, ok := Extract(s)
	if !ok {
		t.Fatal("expected usable rank data")
	}
	got := set.Badges["5522886011"].CategoryName
	if got != "Category 5522886011" {
		t.Fatalf("unexpected fallback name: %q", got)
	}
}
