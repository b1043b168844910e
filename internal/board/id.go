package board

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	shortIDLength = 12
	crockfordBase = "0123456789abcdefghjkmnpqrstvwxyz"
)

// NewBoardID returns a fresh board id such as "board-06bq1k7m2x9z".
func NewBoardID() (string, error) { return newID("board") }

// NewLaneID returns a fresh lane id.
func NewLaneID() (string, error) { return newID("lane") }

// NewCardID returns a fresh card id.
func NewCardID() (string, error) { return newID("card") }

// NewTagID returns a fresh tag id.
func NewTagID() (string, error) { return newID("tag") }

func newID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}

	return prefix + "-" + shortID(id), nil
}

// shortID encodes the top 60 random bits of a UUIDv7 (12 bits of rand_a and
// the high 48 of rand_b) as 12 lowercase Crockford base32 characters.
func shortID(id uuid.UUID) string {
	randA := uint64(id[6]&0x0f)<<8 | uint64(id[7])
	randB := uint64(id[8]&0x3f)<<56 |
		uint64(id[9])<<48 |
		uint64(id[10])<<40 |
		uint64(id[11])<<32 |
		uint64(id[12])<<24 |
		uint64(id[13])<<16 |
		uint64(id[14])<<8 |
		uint64(id[15])

	v := randA<<48 | randB>>14

	var buf [shortIDLength]byte
	for i := shortIDLength - 1; i >= 0; i-- {
		buf[i] = crockfordBase[v&0x1f]
		v >>= 5
	}

	return string(buf[:])
}
