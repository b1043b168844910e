package board

import (
	"fmt"
	"slices"
)

// PositionStep is the gap between neighbors after a renumber. New lanes of a
// fresh board sit at 0, 1000, 2000.
const PositionStep = 1000

// MinGap is the smallest difference between neighbors that still leaves room
// for an insert between them.
const MinGap = 1

// NextPosition returns a position after every entry in positions:
// the maximum plus [PositionStep], or 0 when positions is empty.
func NextPosition(positions []int) int {
	if len(positions) == 0 {
		return 0
	}

	return slices.Max(positions) + PositionStep
}

// InsertPosition returns a position strictly between before and after.
// Either bound may be nil to insert at the start or the end.
//
// ok is false when the neighbors are too close to fit a new position.
// Callers then renumber the collection with [Normalize] and retry. The
// store never renumbers on its own.
func InsertPosition(before, after *int) (pos int, ok bool) {
	switch {
	case before == nil && after == nil:
		return 0, true
	case before == nil:
		return *after - PositionStep, true
	case after == nil:
		return *before + PositionStep, true
	}

	if *after-*before <= MinGap {
		return 0, false
	}

	return *before + (*after-*before)/2, true
}

// Normalize returns n positions 0, step, 2*step, ...
func Normalize(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i * PositionStep
	}

	return out
}

// SortLanes orders lanes by position, keeping the existing order for ties.
func SortLanes(lanes []Lane) {
	slices.SortStableFunc(lanes, func(a, b Lane) int { return a.Position - b.Position })
}

// SortCards orders cards by position, keeping the existing order for ties.
func SortCards(cards []Card) {
	slices.SortStableFunc(cards, func(a, b Card) int { return a.Position - b.Position })
}

// Reorder returns the permutation of ids that matches want. Every id must
// appear exactly once in both.
func Reorder(ids, want []string) ([]int, error) {
	if len(ids) != len(want) {
		return nil, fmt.Errorf("%w: got %d ids, have %d", ErrUnknownIDs, len(want), len(ids))
	}

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	order := make([]int, 0, len(want))

	for _, id := range want {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIDs, id)
		}

		delete(index, id)
		order = append(order, i)
	}

	return order, nil
}
