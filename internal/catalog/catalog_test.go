package catalog

import (
	"strings"
	"testing"
	"time"
)

// f32 returns a pointer to v.
func f32(v float32) *float32 { return &v }

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

func TestMerge_FirstSeenWins(t *testing.T) {
	t.Parallel()

	a := []Item{{ID: "A", DenseDist: f32(0.9)}, {ID: "B", DenseDist: f32(0.8)}}
	b := []Item{{ID: "B", DenseDist: f32(0.1)}, {ID: "C", DenseDist: f32(0.5)}}

	got := Merge(a, b)
	if len(got) != 3 {
		t.Fatalf("want 3 items, got %d", len(got))
	}
	if got[1].ID != "B" || *got[1].DenseDist != 0.8 {
		t.Errorf("B: want first-seen score 0.8, got %v", *got[1].DenseDist)
	}
	if ids := strings.Join(IDs(got), ","); ids != "A,B,C" {
		t.Errorf("order: want A,B,C, got %s", ids)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	set := []Item{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	got := Merge(set, set)
	if len(got) != len(set) {
		t.Fatalf("want %d items, got %d", len(set), len(got))
	}
	again := Merge(got, got)
	if strings.Join(IDs(again), ",") != strings.Join(IDs(set), ",") {
		t.Errorf("merge of merged set changed it: %v", IDs(again))
	}
}

// ---------------------------------------------------------------------------
// AboveThreshold
// ---------------------------------------------------------------------------

func TestAboveThreshold_Boundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		item Item
		keep bool
	}{
		{"zero dense no sparse", Item{ID: "1", DenseDist: f32(0.0)}, false},
		{"zero dense positive sparse", Item{ID: "2", DenseDist: f32(0.0), SparseDist: f32(0.3)}, true},
		{"zero dense zero sparse", Item{ID: "3", DenseDist: f32(0.0), SparseDist: f32(0.0)}, false},
		{"negative dense negative sparse", Item{ID: "4", DenseDist: f32(-0.2), SparseDist: f32(-0.1)}, false},
		{"positive dense no sparse", Item{ID: "5", DenseDist: f32(0.01)}, true},
		{"nil dense positive sparse", Item{ID: "6", SparseDist: f32(0.7)}, true},
		{"nil dense nil sparse", Item{ID: "7"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := AboveThreshold([]Item{tc.item}, DenseDistThreshold)
			if (len(got) == 1) != tc.keep {
				t.Errorf("keep = %v, want %v", len(got) == 1, tc.keep)
			}
		})
	}
}

func TestAboveThreshold_TunableThreshold(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "low", DenseDist: f32(0.2)}, {ID: "high", DenseDist: f32(0.6)}}
	got := AboveThreshold(items, 0.5)
	if len(got) != 1 || got[0].ID != "high" {
		t.Errorf("want only high, got %v", IDs(got))
	}
}

// ---------------------------------------------------------------------------
// WithNames / Strip
// ---------------------------------------------------------------------------

func TestWithNames_DropsBlank(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "a", Name: "Lego"}, {ID: "b", Name: "   "}, {ID: "c", Name: ""}, {ID: "d", Name: "\tKit\n"}}
	got := WithNames(items)
	if ids := strings.Join(IDs(got), ","); ids != "a,d" {
		t.Errorf("want a,d, got %s", ids)
	}
}

func TestStrip_RemovesScores(t *testing.T) {
	t.Parallel()

	in := []Item{{ID: "a", Name: "n", Description: "d", DenseDist: f32(1), SparseDist: f32(2), RerankScore: f32(3)}}
	got := Strip(in)
	if got[0].DenseDist != nil || got[0].SparseDist != nil || got[0].RerankScore != nil {
		t.Errorf("scores not stripped: %+v", got[0])
	}
	if in[0].DenseDist == nil {
		t.Error("Strip mutated its input")
	}
	if got[0].Name != "n" || got[0].Description != "d" {
		t.Errorf("attributes lost: %+v", got[0])
	}
}

// ---------------------------------------------------------------------------
// RankedResult
// ---------------------------------------------------------------------------

func TestNewRankedResult_Provenance(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "x1", Name: "one", RerankScore: f32(0.9)}, {ID: "x2", Name: "two"}}
	res := NewRankedResult(items, ResultMeta{
		Intent:     "gift",
		Category:   "puzzles",
		Queries:    []string{"jigsaw"},
		Elapsed:    1500 * time.Millisecond,
		FoundCount: 10,
		TotalCount: 1000,
	})

	if !strings.HasPrefix(res.GroupID, "group_") || len(res.GroupID) != len("group_")+8 {
		t.Errorf("group id: got %q", res.GroupID)
	}
	if res.IconID != "x1" {
		t.Errorf("icon: want x1, got %q", res.IconID)
	}
	if res.SelectedCount != 2 || res.FoundCount != 10 || res.TotalCount != 1000 {
		t.Errorf("counts: got selected=%d found=%d total=%d", res.SelectedCount, res.FoundCount, res.TotalCount)
	}
	if res.Elapsed != 1.5 {
		t.Errorf("elapsed: want 1.5, got %v", res.Elapsed)
	}
	if res.Items[0].RerankScore != nil {
		t.Error("rerank score survived into result")
	}
}

func TestNewRankedResult_ClampsCounts(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	res := NewRankedResult(items, ResultMeta{FoundCount: 1, TotalCount: 2})
	if !(res.SelectedCount <= res.FoundCount && res.FoundCount <= res.TotalCount) {
		t.Errorf("invariant broken: selected=%d found=%d total=%d", res.SelectedCount, res.FoundCount, res.TotalCount)
	}
}

func TestNewRankedResult_EmptyHasNoIcon(t *testing.T) {
	t.Parallel()

	res := NewRankedResult(nil, ResultMeta{Category: "empty"})
	if res.IconID != "" {
		t.Errorf("want empty icon, got %q", res.IconID)
	}
	if res.Items == nil || len(res.Items) != 0 {
		t.Errorf("want empty non-nil items, got %v", res.Items)
	}
}

func TestNewGroupID_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 100 {
		id := NewGroupID()
		if seen[id] {
			t.Fatalf("duplicate group id %q", id)
		}
		seen[id] = true
	}
}
