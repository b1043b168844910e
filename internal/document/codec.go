// Package document stores board aggregates as markdown files.
//
// A document is a YAML header between "---" lines that holds the whole
// aggregate, followed by a generated markdown rendering of the lanes and
// cards. Only the header is read back. The body is rewritten on every save
// and exists for people browsing the data directory.
//
//	---
//	id: board-06bq1k7m2x9z
//	title: Demo
//	createdAt: "2024-05-01T12:00:00.000Z"
//	updatedAt: "2024-05-01T12:00:00.000Z"
//	tags: []
//	lanes:
//	    - id: lane-06bq1k7m3a0c
//	      title: Todo
//	      position: 0
//	      ...
//	---
//
//	# Demo
//
//	## Todo
//
//	### Buy milk
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/mdboard/internal/board"
)

const delimiter = "---"

// timeLayout is ISO-8601 with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type tagHeader struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

type cardHeader struct {
	ID          string      `yaml:"id"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description,omitempty"`
	Position    int         `yaml:"position"`
	CreatedAt   string      `yaml:"createdAt,omitempty"`
	UpdatedAt   string      `yaml:"updatedAt,omitempty"`
	Tags        []tagHeader `yaml:"tags,omitempty"`
}

type laneHeader struct {
	ID        string       `yaml:"id"`
	Title     string       `yaml:"title"`
	Position  int          `yaml:"position"`
	CreatedAt string       `yaml:"createdAt,omitempty"`
	UpdatedAt string       `yaml:"updatedAt,omitempty"`
	Cards     []cardHeader `yaml:"cards,omitempty"`
}

type boardHeader struct {
	ID        string       `yaml:"id"`
	Title     string       `yaml:"title"`
	CreatedAt string       `yaml:"createdAt,omitempty"`
	UpdatedAt string       `yaml:"updatedAt,omitempty"`
	Tags      []tagHeader  `yaml:"tags"`
	Lanes     []laneHeader `yaml:"lanes"`
}

// Marshal encodes b as a document.
func Marshal(b board.Board) ([]byte, error) {
	h := boardHeader{
		ID:        b.ID,
		Title:     b.Title,
		CreatedAt: formatTime(b.CreatedAt),
		UpdatedAt: formatTime(b.UpdatedAt),
		Tags:      encodeTags(b.Tags),
		Lanes:     make([]laneHeader, 0, len(b.Lanes)),
	}

	if h.Tags == nil {
		h.Tags = []tagHeader{}
	}

	for _, l := range b.Lanes {
		lh := laneHeader{
			ID:        l.ID,
			Title:     l.Title,
			Position:  l.Position,
			CreatedAt: formatTime(l.CreatedAt),
			UpdatedAt: formatTime(l.UpdatedAt),
		}

		for _, c := range l.Cards {
			lh.Cards = append(lh.Cards, cardHeader{
				ID:          c.ID,
				Title:       c.Title,
				Description: c.Description,
				Position:    c.Position,
				CreatedAt:   formatTime(c.CreatedAt),
				UpdatedAt:   formatTime(c.UpdatedAt),
				Tags:        encodeTags(c.Tags),
			})
		}

		h.Lanes = append(h.Lanes, lh)
	}

	var buf bytes.Buffer

	buf.WriteString(delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	buf.WriteString(delimiter + "\n")
	renderBody(&buf, b)

	return buf.Bytes(), nil
}

// Unmarshal decodes a document. Only the header is read.
//
// A missing or unterminated header, invalid YAML, or a header without id or
// title returns an error wrapping [ErrParse]. Missing lane and card
// positions default to 0. Missing or unreadable timestamps default to the
// parent's (board for lanes, lane for cards). A board without timestamps
// gets the current time.
func Unmarshal(data []byte) (board.Board, error) {
	raw, err := splitHeader(data)
	if err != nil {
		return board.Board{}, parseError(err)
	}

	var h boardHeader
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return board.Board{}, parseError(fmt.Errorf("invalid header: %w", err))
	}

	if strings.TrimSpace(h.ID) == "" {
		return board.Board{}, parseError(errors.New("missing id"))
	}

	if strings.TrimSpace(h.Title) == "" {
		return board.Board{}, parseError(errors.New("missing title"))
	}

	now := board.Now()

	b := board.Board{
		ID:        h.ID,
		Title:     h.Title,
		CreatedAt: parseTime(h.CreatedAt, now),
		Tags:      decodeTags(h.Tags),
	}
	b.UpdatedAt = parseTime(h.UpdatedAt, b.CreatedAt)

	for _, lh := range h.Lanes {
		l := board.Lane{
			ID:        lh.ID,
			BoardID:   b.ID,
			Title:     lh.Title,
			Position:  lh.Position,
			CreatedAt: parseTime(lh.CreatedAt, b.CreatedAt),
			UpdatedAt: parseTime(lh.UpdatedAt, b.UpdatedAt),
		}

		for _, ch := range lh.Cards {
			l.Cards = append(l.Cards, board.Card{
				ID:          ch.ID,
				LaneID:      l.ID,
				Title:       ch.Title,
				Description: ch.Description,
				Position:    ch.Position,
				CreatedAt:   parseTime(ch.CreatedAt, l.CreatedAt),
				UpdatedAt:   parseTime(ch.UpdatedAt, l.UpdatedAt),
				Tags:        decodeTags(ch.Tags),
			})
		}

		b.Lanes = append(b.Lanes, l)
	}

	return b, nil
}

// splitHeader returns the YAML between the opening and closing delimiter.
// Leading blank lines before the opening delimiter are allowed.
func splitHeader(data []byte) ([]byte, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimLeft(text, "\n")

	first, rest, _ := strings.Cut(text, "\n")
	if strings.TrimRight(first, " \t") != delimiter {
		return nil, errors.New("missing opening delimiter")
	}

	var header strings.Builder

	for rest != "" {
		var line string

		line, rest, _ = strings.Cut(rest, "\n")
		if strings.TrimRight(line, " \t") == delimiter {
			return []byte(header.String()), nil
		}

		header.WriteString(line)
		header.WriteByte('\n')
	}

	return nil, errors.New("missing closing delimiter")
}

func renderBody(buf *bytes.Buffer, b board.Board) {
	fmt.Fprintf(buf, "\n# %s\n", b.Title)

	for _, l := range b.Lanes {
		fmt.Fprintf(buf, "\n## %s\n", l.Title)

		for _, c := range l.Cards {
			fmt.Fprintf(buf, "\n### %s\n", c.Title)

			if c.Description != "" {
				fmt.Fprintf(buf, "\n%s\n", strings.TrimRight(c.Description, "\n"))
			}

			if len(c.Tags) > 0 {
				names := make([]string, len(c.Tags))
				for i, t := range c.Tags {
					names[i] = t.Name
				}

				fmt.Fprintf(buf, "\n**Tags**: %s\n", strings.Join(names, ", "))
			}
		}
	}
}

func parseError(err error) error {
	return &Error{Kind: ErrParse, Err: err}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(timeLayout)
}

func parseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fallback
	}

	return t.UTC()
}

func encodeTags(tags []board.Tag) []tagHeader {
	if len(tags) == 0 {
		return nil
	}

	out := make([]tagHeader, len(tags))
	for i, t := range tags {
		out[i] = tagHeader(t)
	}

	return out
}

func decodeTags(tags []tagHeader) []board.Tag {
	if len(tags) == 0 {
		return nil
	}

	out := make([]board.Tag, len(tags))
	for i, t := range tags {
		out[i] = board.Tag(t)
	}

	return out
}
