package store

import (
	"context"
	"fmt"
	"time"

	"github.com/calvinalkan/mdboard/internal/board"
)

// CardInput describes a new card.
type CardInput struct {
	Title       string
	Description string
	Tags        []board.Tag
}

// CardPatch holds the card fields to change. Nil fields are left alone.
type CardPatch struct {
	Title       *string
	Description *string
	Tags        *[]board.Tag
}

// CreateCard appends a card to a lane. Its position is the lane's card
// count before the insert.
func (s *Store) CreateCard(ctx context.Context, boardID, laneID string, in CardInput) (board.Card, error) {
	title, err := board.ValidateTitle(in.Title)
	if err != nil {
		return board.Card{}, err
	}

	cardID, err := board.NewCardID()
	if err != nil {
		return board.Card{}, err
	}

	var card board.Card

	_, err = s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		i := b.LaneIndex(laneID)
		if i < 0 {
			return laneNotFound(laneID)
		}

		lane := &b.Lanes[i]
		card = board.Card{
			ID:          cardID,
			LaneID:      lane.ID,
			Title:       title,
			Description: in.Description,
			Position:    len(lane.Cards),
			CreatedAt:   now,
			UpdatedAt:   now,
			Tags:        copyTags(in.Tags),
		}

		lane.Cards = append(lane.Cards, card)
		lane.UpdatedAt = now

		return nil
	})
	if err != nil {
		return board.Card{}, err
	}

	return card, nil
}

// UpdateCard applies patch to the card with cardID, wherever it lives on
// the board.
func (s *Store) UpdateCard(ctx context.Context, boardID, cardID string, patch CardPatch) (board.Card, error) {
	var title string

	if patch.Title != nil {
		t, err := board.ValidateTitle(*patch.Title)
		if err != nil {
			return board.Card{}, err
		}

		title = t
	}

	var card board.Card

	_, err := s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		li, ci := b.FindCard(cardID)
		if li < 0 {
			return cardNotFound(cardID)
		}

		c := &b.Lanes[li].Cards[ci]

		if patch.Title != nil {
			c.Title = title
		}

		if patch.Description != nil {
			c.Description = *patch.Description
		}

		if patch.Tags != nil {
			c.Tags = copyTags(*patch.Tags)
		}

		c.UpdatedAt = now
		b.Lanes[li].UpdatedAt = now
		card = *c
		card.Tags = copyTags(c.Tags)

		return nil
	})
	if err != nil {
		return board.Card{}, err
	}

	return card, nil
}

// DeleteCard removes the card with cardID from whichever lane holds it.
func (s *Store) DeleteCard(ctx context.Context, boardID, cardID string) error {
	_, err := s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		li, ci := b.FindCard(cardID)
		if li < 0 {
			return cardNotFound(cardID)
		}

		lane := &b.Lanes[li]
		lane.Cards = append(lane.Cards[:ci], lane.Cards[ci+1:]...)
		lane.UpdatedAt = now

		return nil
	})

	return err
}

// MoveCard moves a card to toLaneID at position. The card is found by
// searching every lane, so moves within one lane work too. Other cards keep
// their positions.
func (s *Store) MoveCard(ctx context.Context, boardID, cardID, toLaneID string, position int) (board.Card, error) {
	var card board.Card

	_, err := s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		li, ci := b.FindCard(cardID)
		if li < 0 {
			return cardNotFound(cardID)
		}

		to := b.LaneIndex(toLaneID)
		if to < 0 {
			return laneNotFound(toLaneID)
		}

		from := &b.Lanes[li]
		moved := from.Cards[ci]
		from.Cards = append(from.Cards[:ci], from.Cards[ci+1:]...)
		from.UpdatedAt = now

		moved.LaneID = toLaneID
		moved.Position = position
		moved.UpdatedAt = now

		target := &b.Lanes[to]
		target.Cards = append(target.Cards, moved)
		target.UpdatedAt = now

		card = moved
		card.Tags = copyTags(moved.Tags)

		return nil
	})
	if err != nil {
		return board.Card{}, err
	}

	return card, nil
}

// ReorderCards puts a lane's cards in the order of cardIDs, which must name
// every card of the lane exactly once, and renumbers them 0, 1000, 2000, ...
func (s *Store) ReorderCards(ctx context.Context, boardID, laneID string, cardIDs []string) (board.Lane, error) {
	var lane board.Lane

	_, err := s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		i := b.LaneIndex(laneID)
		if i < 0 {
			return laneNotFound(laneID)
		}

		l := &b.Lanes[i]

		ids := make([]string, len(l.Cards))
		for j, c := range l.Cards {
			ids[j] = c.ID
		}

		order, err := board.Reorder(ids, cardIDs)
		if err != nil {
			return err
		}

		positions := board.Normalize(len(order))
		cards := make([]board.Card, len(order))

		for j, from := range order {
			c := l.Cards[from]
			if c.Position != positions[j] {
				c.Position = positions[j]
				c.UpdatedAt = now
			}

			cards[j] = c
		}

		l.Cards = cards
		l.UpdatedAt = now
		lane = l.Clone()

		return nil
	})
	if err != nil {
		return board.Lane{}, err
	}

	return lane, nil
}

func cardNotFound(id string) error {
	return fmt.Errorf("%w: %s", board.ErrCardNotFound, id)
}

func copyTags(tags []board.Tag) []board.Tag {
	if len(tags) == 0 {
		return nil
	}

	return append([]board.Tag(nil), tags...)
}
