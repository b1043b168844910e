package store

import (
	"context"
	"fmt"
	"time"

	"github.com/calvinalkan/mdboard/internal/board"
)

// LanePatch holds the lane fields to change. Nil fields are left alone.
type LanePatch struct {
	Title *string
}

// CreateLane appends a lane after the board's last lane.
func (s *Store) CreateLane(ctx context.Context, boardID, title string) (board.Lane, error) {
	title, err := board.ValidateTitle(title)
	if err != nil {
		return board.Lane{}, err
	}

	laneID, err := board.NewLaneID()
	if err != nil {
		return board.Lane{}, err
	}

	var lane board.Lane

	_, err = s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		positions := make([]int, len(b.Lanes))
		for i, l := range b.Lanes {
			positions[i] = l.Position
		}

		lane = board.Lane{
			ID:        laneID,
			BoardID:   b.ID,
			Title:     title,
			Position:  board.NextPosition(positions),
			CreatedAt: now,
			UpdatedAt: now,
		}
		b.Lanes = append(b.Lanes, lane)

		return nil
	})
	if err != nil {
		return board.Lane{}, err
	}

	return lane, nil
}

// UpdateLane applies patch to a lane.
func (s *Store) UpdateLane(ctx context.Context, boardID, laneID string, patch LanePatch) (board.Lane, error) {
	var title string

	if patch.Title != nil {
		t, err := board.ValidateTitle(*patch.Title)
		if err != nil {
			return board.Lane{}, err
		}

		title = t
	}

	var lane board.Lane

	_, err := s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		i := b.LaneIndex(laneID)
		if i < 0 {
			return laneNotFound(laneID)
		}

		if patch.Title != nil {
			b.Lanes[i].Title = title
		}

		b.Lanes[i].UpdatedAt = now
		lane = b.Lanes[i].Clone()

		return nil
	})
	if err != nil {
		return board.Lane{}, err
	}

	return lane, nil
}

// DeleteLane removes a lane and its cards.
func (s *Store) DeleteLane(ctx context.Context, boardID, laneID string) error {
	_, err := s.mutate(ctx, boardID, func(b *board.Board, _ time.Time) error {
		i := b.LaneIndex(laneID)
		if i < 0 {
			return laneNotFound(laneID)
		}

		b.Lanes = append(b.Lanes[:i], b.Lanes[i+1:]...)

		return nil
	})

	return err
}

// ReorderLanes puts the board's lanes in the order of laneIDs, which must
// name every lane exactly once, and renumbers them 0, 1000, 2000, ...
func (s *Store) ReorderLanes(ctx context.Context, boardID string, laneIDs []string) (board.Board, error) {
	return s.mutate(ctx, boardID, func(b *board.Board, now time.Time) error {
		ids := make([]string, len(b.Lanes))
		for i, l := range b.Lanes {
			ids[i] = l.ID
		}

		order, err := board.Reorder(ids, laneIDs)
		if err != nil {
			return err
		}

		positions := board.Normalize(len(order))
		lanes := make([]board.Lane, len(order))

		for i, from := range order {
			l := b.Lanes[from]
			if l.Position != positions[i] {
				l.Position = positions[i]
				l.UpdatedAt = now
			}

			lanes[i] = l
		}

		b.Lanes = lanes

		return nil
	})
}

func laneNotFound(id string) error {
	return fmt.Errorf("%w: %s", board.ErrLaneNotFound, id)
}
