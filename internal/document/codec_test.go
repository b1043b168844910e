package document_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/document"
)

var (
	t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 5, 2, 8, 30, 15, 250_000_000, time.UTC)
)

func sampleBoard() board.Board {
	return board.Board{
		ID:        "board-1",
		Title:     "Demo: launch plan",
		CreatedAt: t0,
		UpdatedAt: t1,
		Tags:      []board.Tag{{ID: "tag-1", Name: "urgent", Color: "red"}},
		Lanes: []board.Lane{
			{
				ID: "lane-1", BoardID: "board-1", Title: "Todo", Position: 0, CreatedAt: t0, UpdatedAt: t1,
				Cards: []board.Card{
					{
						ID: "card-1", LaneID: "lane-1", Title: "Buy milk", Position: 0,
						Description: "two liters\n- whole\n- oat", CreatedAt: t0, UpdatedAt: t1,
						Tags: []board.Tag{{ID: "tag-1", Name: "urgent", Color: "red"}, {ID: "tag-2", Name: "home", Color: "blue"}},
					},
					{ID: "card-2", LaneID: "lane-1", Title: "---", Position: 1, CreatedAt: t0, UpdatedAt: t0},
				},
			},
			{ID: "lane-2", BoardID: "board-1", Title: "In Progress", Position: 1000, CreatedAt: t0, UpdatedAt: t0},
			{ID: "lane-3", BoardID: "board-1", Title: "Done", Position: 2000, CreatedAt: t0, UpdatedAt: t0},
		},
	}
}

func Test_Unmarshal_Reproduces_Marshaled_Board(t *testing.T) {
	t.Parallel()

	want := sampleBoard()

	data, err := document.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := document.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, data)
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func Test_Marshal_Omits_Absent_Optional_Card_Fields(t *testing.T) {
	t.Parallel()

	b := sampleBoard()

	data, err := document.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	header, _, _ := strings.Cut(strings.TrimPrefix(string(data), "---\n"), "\n---\n")

	if got, want := strings.Count(header, "description:"), 1; got != want {
		t.Fatalf("description keys=%d, want %d\n%s", got, want, header)
	}

	// Board tags plus the tags of card-1 only.
	if got, want := strings.Count(header, "tags:"), 2; got != want {
		t.Fatalf("tags keys=%d, want %d\n%s", got, want, header)
	}

	if strings.Contains(header, "null") || strings.Contains(header, `description: ""`) {
		t.Fatalf("header contains empty optional values:\n%s", header)
	}
}

func Test_Marshal_Renders_Markdown_Body(t *testing.T) {
	t.Parallel()

	data, err := document.Marshal(sampleBoard())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	_, body, ok := strings.Cut(strings.TrimPrefix(string(data), "---\n"), "\n---\n")
	if !ok {
		t.Fatalf("no closing delimiter:\n%s", data)
	}

	for _, want := range []string{
		"# Demo: launch plan\n",
		"## Todo\n",
		"### Buy milk\n",
		"two liters\n",
		"**Tags**: urgent, home\n",
		"## Done\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func Test_Unmarshal_Returns_ErrParse_When_Header_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "no header", doc: "# Just markdown\n"},
		{name: "unterminated", doc: "---\nid: b\ntitle: x\n"},
		{name: "missing id", doc: "---\ntitle: x\n---\n"},
		{name: "missing title", doc: "---\nid: b\n---\n"},
		{name: "blank title", doc: "---\nid: b\ntitle: \"  \"\n---\n"},
		{name: "invalid yaml", doc: "---\nid: [b\n---\n"},
		{name: "scalar header", doc: "---\nhello\n---\n"},
		{name: "empty", doc: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := document.Unmarshal([]byte(tt.doc))
			if !errors.Is(err, document.ErrParse) {
				t.Fatalf("Unmarshal: err=%v, want %v", err, document.ErrParse)
			}
		})
	}
}

func Test_Unmarshal_Defaults_Missing_Nested_Fields(t *testing.T) {
	t.Parallel()

	doc := `
---
id: board-x
title: Hand edited
createdAt: "2024-05-01T12:00:00.000Z"
updatedAt: "2024-05-02T08:30:15.250Z"
lanes:
  - id: lane-a
    title: Only lane
    cards:
      - id: card-a
        title: No position
        laneId: ignored
---
free text that is never parsed
`

	got, err := document.Unmarshal([]byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := board.Board{
		ID: "board-x", Title: "Hand edited", CreatedAt: t0, UpdatedAt: t1,
		Lanes: []board.Lane{{
			ID: "lane-a", BoardID: "board-x", Title: "Only lane", Position: 0, CreatedAt: t0, UpdatedAt: t1,
			Cards: []board.Card{{ID: "card-a", LaneID: "lane-a", Title: "No position", Position: 0, CreatedAt: t0, UpdatedAt: t1}},
		}},
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func Test_Unmarshal_Uses_Current_Time_When_Board_Timestamps_Missing(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)

	got, err := document.Unmarshal([]byte("---\nid: b\ntitle: t\n---\n"))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.CreatedAt.Before(before) || !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Fatalf("timestamps=(%v, %v), want now", got.CreatedAt, got.UpdatedAt)
	}
}

func Test_FileStem_Replaces_Separators_And_Dots(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"board-1":          "board-1",
		"../../etc/passwd": "------etc-passwd",
		`a\b.c`:            "a-b-c",
	} {
		if got := document.FileStem(in); got != want {
			t.Fatalf("FileStem(%q)=%q, want %q", in, got, want)
		}
	}
}
