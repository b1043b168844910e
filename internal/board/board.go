// Package board defines the board aggregate (boards, lanes, cards, tags)
// and the positional numbering used to order lanes and cards.
package board

import (
	"strings"
	"time"
)

// DefaultLaneTitles are the lanes every new board starts with.
var DefaultLaneTitles = []string{"Todo", "In Progress", "Done"}

// DefaultBoardID is the id of the board created when the data directory has none.
const DefaultBoardID = "default-board"

// DefaultBoardTitle is the title of the board created when the data directory has none.
const DefaultBoardTitle = "My Board"

// Tag is a value object. A card's tags are copies, not references.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Card is owned by exactly one lane. LaneID mirrors the owning lane.
type Card struct {
	ID          string    `json:"id"`
	LaneID      string    `json:"laneId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Tags        []Tag     `json:"tags,omitempty"`
}

// Lane is owned by exactly one board. BoardID mirrors the owning board.
type Lane struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Cards     []Card    `json:"cards"`
}

// Board is the aggregate root. One board is stored as one document.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Tags      []Tag     `json:"tags"`
	Lanes     []Lane    `json:"lanes"`
}

// Summary is the listing view of a board.
type Summary struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary returns the listing view of b.
func (b Board) Summary() Summary {
	return Summary{ID: b.ID, Title: b.Title, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt}
}

// Clone returns a deep copy of b. Mutating the copy never affects b.
func (b Board) Clone() Board {
	out := b
	out.Tags = cloneTags(b.Tags)

	if b.Lanes != nil {
		out.Lanes = make([]Lane, len(b.Lanes))
		for i, l := range b.Lanes {
			out.Lanes[i] = l.Clone()
		}
	}

	return out
}

// Clone returns a deep copy of l.
func (l Lane) Clone() Lane {
	out := l

	if l.Cards != nil {
		out.Cards = make([]Card, len(l.Cards))
		for i, c := range l.Cards {
			c.Tags = cloneTags(c.Tags)
			out.Cards[i] = c
		}
	}

	return out
}

func cloneTags(tags []Tag) []Tag {
	if tags == nil {
		return nil
	}

	return append([]Tag(nil), tags...)
}

// LaneIndex returns the index of the lane with id, or -1.
func (b Board) LaneIndex(id string) int {
	for i := range b.Lanes {
		if b.Lanes[i].ID == id {
			return i
		}
	}

	return -1
}

// FindCard returns the lane and card indexes holding card id, or -1, -1.
func (b Board) FindCard(id string) (int, int) {
	for li := range b.Lanes {
		for ci := range b.Lanes[li].Cards {
			if b.Lanes[li].Cards[ci].ID == id {
				return li, ci
			}
		}
	}

	return -1, -1
}

// Now returns the current UTC time truncated to milliseconds, the precision
// stored in documents.
func Now() time.Time {
	return Timestamp(time.Now())
}

// Timestamp normalizes t to UTC with millisecond precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ValidateTitle trims title and rejects empty results.
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}

	return title, nil
}
