package board_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/mdboard/internal/board"
)

func ptr(n int) *int { return &n }

func Test_InsertPosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		before, after *int
		want          int
		wantOK        bool
	}{
		{name: "empty", want: 0, wantOK: true},
		{name: "at start", after: ptr(0), want: -1000, wantOK: true},
		{name: "at end", before: ptr(2000), want: 3000, wantOK: true},
		{name: "between", before: ptr(1000), after: ptr(2000), want: 1500, wantOK: true},
		{name: "narrow", before: ptr(1000), after: ptr(1002), want: 1001, wantOK: true},
		{name: "exhausted", before: ptr(1000), after: ptr(1001), wantOK: false},
		{name: "equal", before: ptr(5), after: ptr(5), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := board.InsertPosition(tt.before, tt.after)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}

			if ok && got != tt.want {
				t.Fatalf("pos=%d, want %d", got, tt.want)
			}
		})
	}
}

func Test_NextPosition_And_Normalize(t *testing.T) {
	t.Parallel()

	if got, want := board.NextPosition(nil), 0; got != want {
		t.Fatalf("NextPosition(nil)=%d, want %d", got, want)
	}

	if got, want := board.NextPosition([]int{0, 2000, 1000}), 3000; got != want {
		t.Fatalf("NextPosition=%d, want %d", got, want)
	}

	if diff := cmp.Diff([]int{0, 1000, 2000, 3000}, board.Normalize(4)); diff != "" {
		t.Fatalf("Normalize(4) mismatch (-want +got):\n%s", diff)
	}
}

func Test_Reorder_Rejects_Unknown_And_Missing_IDs(t *testing.T) {
	t.Parallel()

	order, err := board.Reorder([]string{"a", "b", "c"}, []string{"c", "a", "b"})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	if diff := cmp.Diff([]int{2, 0, 1}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	for _, want := range [][]string{{"a", "b"}, {"a", "b", "x"}, {"a", "a", "b"}} {
		if _, err := board.Reorder([]string{"a", "b", "c"}, want); !errors.Is(err, board.ErrUnknownIDs) {
			t.Fatalf("Reorder(%v): err=%v, want %v", want, err, board.ErrUnknownIDs)
		}
	}
}

func Test_SortCards_Is_Stable_For_Equal_Positions(t *testing.T) {
	t.Parallel()

	cards := []board.Card{{ID: "b", Position: 1}, {ID: "x", Position: 0}, {ID: "a", Position: 1}}
	board.SortCards(cards)

	var ids []string
	for _, c := range cards {
		ids = append(ids, c.ID)
	}

	if diff := cmp.Diff([]string{"x", "b", "a"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func Test_Board_Clone_Does_Not_Share_Nested_Slices(t *testing.T) {
	t.Parallel()

	orig := board.Board{
		ID:    "b1",
		Tags:  []board.Tag{{ID: "t", Name: "x"}},
		Lanes: []board.Lane{{ID: "l1", Cards: []board.Card{{ID: "c1", Tags: []board.Tag{{ID: "t"}}}}}},
	}

	cp := orig.Clone()
	cp.Tags[0].Name = "changed"
	cp.Lanes[0].Title = "changed"
	cp.Lanes[0].Cards[0].Title = "changed"
	cp.Lanes[0].Cards[0].Tags[0].Name = "changed"

	if orig.Tags[0].Name != "x" || orig.Lanes[0].Title != "" || orig.Lanes[0].Cards[0].Title != "" || orig.Lanes[0].Cards[0].Tags[0].Name != "" {
		t.Fatalf("original mutated through clone: %+v", orig)
	}
}

func Test_Board_FindCard_And_LaneIndex(t *testing.T) {
	t.Parallel()

	b := board.Board{Lanes: []board.Lane{
		{ID: "l1", Cards: []board.Card{{ID: "c1"}}},
		{ID: "l2", Cards: []board.Card{{ID: "c2"}, {ID: "c3"}}},
	}}

	if li, ci := b.FindCard("c3"); li != 1 || ci != 1 {
		t.Fatalf("FindCard(c3)=(%d, %d), want (1, 1)", li, ci)
	}

	if li, ci := b.FindCard("nope"); li != -1 || ci != -1 {
		t.Fatalf("FindCard(nope)=(%d, %d), want (-1, -1)", li, ci)
	}

	if got := b.LaneIndex("l2"); got != 1 {
		t.Fatalf("LaneIndex(l2)=%d, want 1", got)
	}
}

func Test_NewIDs_Are_Prefixed_And_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)

	for range 100 {
		id, err := board.NewCardID()
		if err != nil {
			t.Fatalf("NewCardID: %v", err)
		}

		if !strings.HasPrefix(id, "card-") || len(id) != len("card-")+12 {
			t.Fatalf("id=%q, want card-<12 chars>", id)
		}

		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}

		seen[id] = true
	}
}

func Test_ValidateTitle_Trims_And_Rejects_Empty(t *testing.T) {
	t.Parallel()

	got, err := board.ValidateTitle("  Demo ")
	if err != nil || got != "Demo" {
		t.Fatalf("ValidateTitle=(%q, %v), want (Demo, nil)", got, err)
	}

	if _, err := board.ValidateTitle("   "); !errors.Is(err, board.ErrEmptyTitle) {
		t.Fatalf("ValidateTitle(blank): err=%v, want %v", err, board.ErrEmptyTitle)
	}
}

func Test_Timestamp_Truncates_To_Milliseconds_UTC(t *testing.T) {
	t.Parallel()

	in := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	got := board.Timestamp(in)

	if got.Location() != time.UTC || got.Nanosecond() != 123000000 {
		t.Fatalf("Timestamp=%v, want UTC with ms precision", got)
	}
}
