package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/document"
)

// BoardPatch holds the board fields to change. Nil fields are left alone.
type BoardPatch struct {
	Title *string
	Tags  *[]board.Tag
}

// ListBoardSummaries returns a summary of every readable board, in file
// order. Boards whose documents fail to parse are logged and skipped.
func (s *Store) ListBoardSummaries(ctx context.Context) ([]board.Summary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	return s.summaries(ctx)
}

func (s *Store) summaries(ctx context.Context) ([]board.Summary, error) {
	stems, err := s.docs.ListAll()
	if err != nil {
		return nil, err
	}

	out := make([]board.Summary, 0, len(stems))

	for _, stem := range stems {
		b, err := s.load(ctx, stem)
		if err != nil {
			if errors.Is(err, document.ErrParse) {
				s.log.WithError(err).WithField("board", stem).Warn("skipping unreadable board")

				continue
			}

			// Deleted between the listing and the read.
			if errors.Is(err, document.ErrNotFound) {
				continue
			}

			return nil, err
		}

		out = append(out, b.Summary())
	}

	return out, nil
}

// GetBoard returns the board with id. ok is false when no such board exists;
// a document that exists but cannot be parsed is an error.
func (s *Store) GetBoard(ctx context.Context, id string) (b board.Board, ok bool, err error) {
	if err := s.ready(); err != nil {
		return board.Board{}, false, err
	}

	b, err = s.load(ctx, id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return board.Board{}, false, nil
		}

		return board.Board{}, false, err
	}

	return b, true, nil
}

// CreateBoard creates a board with the default lanes at positions 0, 1000
// and 2000.
func (s *Store) CreateBoard(ctx context.Context, title string) (board.Board, error) {
	if err := s.ready(); err != nil {
		return board.Board{}, err
	}

	title, err := board.ValidateTitle(title)
	if err != nil {
		return board.Board{}, err
	}

	id, err := board.NewBoardID()
	if err != nil {
		return board.Board{}, err
	}

	b, err := s.newBoard(id, title)
	if err != nil {
		return board.Board{}, err
	}

	if err := s.docs.Write(ctx, b); err != nil {
		return board.Board{}, err
	}

	k := key(b.ID)
	s.cache.Fill(ctx, k, b, s.cache.Reserve(ctx, k))

	s.log.WithField("board", b.ID).Info("board created")

	return b, nil
}

func (s *Store) newBoard(id, title string) (board.Board, error) {
	now := s.now()
	b := board.Board{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}

	positions := board.Normalize(len(board.DefaultLaneTitles))

	for i, laneTitle := range board.DefaultLaneTitles {
		laneID, err := board.NewLaneID()
		if err != nil {
			return board.Board{}, err
		}

		b.Lanes = append(b.Lanes, board.Lane{
			ID:        laneID,
			BoardID:   id,
			Title:     laneTitle,
			Position:  positions[i],
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return b, nil
}

// UpdateBoard applies patch to the board with id.
func (s *Store) UpdateBoard(ctx context.Context, id string, patch BoardPatch) (board.Board, error) {
	var title string

	if patch.Title != nil {
		t, err := board.ValidateTitle(*patch.Title)
		if err != nil {
			return board.Board{}, err
		}

		title = t
	}

	return s.mutate(ctx, id, func(b *board.Board, _ time.Time) error {
		if patch.Title != nil {
			b.Title = title
		}

		if patch.Tags != nil {
			b.Tags = append([]board.Tag(nil), (*patch.Tags)...)
		}

		return nil
	})
}

// DeleteBoard removes the board with id. It fails with [board.ErrLastBoard]
// when no other readable board would remain.
func (s *Store) DeleteBoard(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	err := s.locks.WithLock(ctx, collectionLock, s.lockOpt, func() error {
		ok, err := s.docs.Exists(id)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("%w: %s", board.ErrBoardNotFound, id)
		}

		all, err := s.summaries(ctx)
		if err != nil {
			return err
		}

		others := 0

		for _, sum := range all {
			if key(sum.ID) != key(id) {
				others++
			}
		}

		if others == 0 {
			return board.ErrLastBoard
		}

		return s.docs.Delete(ctx, id)
	})
	if err != nil {
		return boardErr(id, err)
	}

	s.log.WithField("board", id).Info("board deleted")

	return nil
}

// NormalizeBoard renumbers every lane and every lane's cards to 0, 1000,
// 2000, ... keeping their current order.
func (s *Store) NormalizeBoard(ctx context.Context, id string) (board.Board, error) {
	return s.mutate(ctx, id, func(b *board.Board, now time.Time) error {
		board.SortLanes(b.Lanes)

		for i, p := range board.Normalize(len(b.Lanes)) {
			l := &b.Lanes[i]
			changed := l.Position != p
			l.Position = p

			board.SortCards(l.Cards)

			for j, cp := range board.Normalize(len(l.Cards)) {
				if l.Cards[j].Position != cp {
					l.Cards[j].Position = cp
					l.Cards[j].UpdatedAt = now
					changed = true
				}
			}

			if changed {
				l.UpdatedAt = now
			}
		}

		return nil
	})
}

// mutate is the read-modify-write every mutation goes through. fn edits a
// private copy of the current board read from disk under the board lock.
// now is strictly later than the board's current UpdatedAt. The board's
// UpdatedAt is set to now after fn returns.
func (s *Store) mutate(ctx context.Context, id string, fn func(b *board.Board, now time.Time) error) (board.Board, error) {
	if err := s.ready(); err != nil {
		return board.Board{}, err
	}

	b, err := s.docs.Update(ctx, id, func(cur board.Board) (board.Board, error) {
		now := s.now()
		if !now.After(cur.UpdatedAt) {
			now = cur.UpdatedAt.Add(time.Millisecond)
		}

		next := cur.Clone()
		if err := fn(&next, now); err != nil {
			return board.Board{}, err
		}

		next.UpdatedAt = now

		return next, nil
	})
	if err != nil {
		return board.Board{}, boardErr(id, err)
	}

	return b, nil
}

func boardErr(id string, err error) error {
	if errors.Is(err, document.ErrNotFound) && !errors.Is(err, board.ErrBoardNotFound) {
		return fmt.Errorf("%w: %s", board.ErrBoardNotFound, id)
	}

	return err
}
