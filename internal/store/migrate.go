package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/pkg/fs"
)

// Files in the data directory that belong to the legacy migration.
const (
	LegacyFile      = "db.json"
	BackupSuffix    = ".migrated"
	MigrationMarker = ".migration-complete"
)

// MigrateResult reports what a migration did.
type MigrateResult struct {
	// Ran is false when there was nothing to migrate.
	Ran bool

	// Boards is the number of board documents written.
	Boards int

	// Skipped counts legacy boards without an id or title.
	Skipped int
}

type legacyDB struct {
	Boards []legacyBoard `json:"boards"`
}

type legacyTag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type legacyCard struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Position    int         `json:"position"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
	Tags        []legacyTag `json:"tags"`
}

type legacyLane struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Position  int          `json:"position"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
	Cards     []legacyCard `json:"cards"`
}

type legacyBoard struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
	Tags      []legacyTag  `json:"tags"`
	Lanes     []legacyLane `json:"lanes"`
}

// Migrate converts a legacy db.json into one document per board. It is a
// no-op when there is no legacy file or the migration marker exists.
func (s *Store) Migrate(ctx context.Context) (MigrateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed, err := s.needsMigration()
	if err != nil || !needed {
		return MigrateResult{}, err
	}

	prev := s.state
	s.state = StateMigrating

	res, err := s.migrate(ctx)

	s.state = prev

	return res, err
}

func (s *Store) legacyPath() string {
	return filepath.Join(s.dir, LegacyFile)
}

func (s *Store) markerPath() string {
	return filepath.Join(s.dir, MigrationMarker)
}

func (s *Store) needsMigration() (bool, error) {
	legacy, err := fs.Exists(s.fs, s.legacyPath())
	if err != nil {
		return false, fmt.Errorf("check legacy file: %w", err)
	}

	if !legacy {
		return false, nil
	}

	done, err := fs.Exists(s.fs, s.markerPath())
	if err != nil {
		return false, fmt.Errorf("check migration marker: %w", err)
	}

	return !done, nil
}

// migrate runs under the migration lock. The legacy file is only read;
// the backup and the marker are written after every board document.
func (s *Store) migrate(ctx context.Context) (MigrateResult, error) {
	var res MigrateResult

	err := s.locks.WithLock(ctx, migrationLock, s.lockOpt, func() error {
		// Another process may have finished while we waited.
		needed, err := s.needsMigration()
		if err != nil || !needed {
			return err
		}

		data, err := s.fs.ReadFile(s.legacyPath())
		if err != nil {
			return fmt.Errorf("read legacy file: %w", err)
		}

		var db legacyDB
		if err := json.Unmarshal(data, &db); err != nil {
			return fmt.Errorf("parse legacy file: %w", err)
		}

		now := s.now()

		for _, lb := range db.Boards {
			if strings.TrimSpace(lb.ID) == "" || strings.TrimSpace(lb.Title) == "" {
				res.Skipped++
				s.log.WithField("board", lb.ID).Warn("skipping legacy board without id or title")

				continue
			}

			if err := s.docs.Write(ctx, convertLegacy(lb, now)); err != nil {
				return fmt.Errorf("migrate board %s: %w", lb.ID, err)
			}

			res.Boards++
		}

		if err := atomic.WriteFile(s.legacyPath()+BackupSuffix, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("write legacy backup: %w", err)
		}

		stamp := now.Format(time.RFC3339)
		if err := atomic.WriteFile(s.markerPath(), strings.NewReader(stamp)); err != nil {
			return fmt.Errorf("write migration marker: %w", err)
		}

		res.Ran = true

		return nil
	})
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migrate legacy data: %w", err)
	}

	if res.Ran {
		s.log.WithFields(log.Fields{
			"boards":  res.Boards,
			"skipped": res.Skipped,
		}).Info("migrated legacy data")
	}

	return res, nil
}

func convertLegacy(lb legacyBoard, now time.Time) board.Board {
	b := board.Board{
		ID:        lb.ID,
		Title:     strings.TrimSpace(lb.Title),
		CreatedAt: legacyTime(lb.CreatedAt, now),
		Tags:      legacyTags(lb.Tags),
	}
	b.UpdatedAt = legacyTime(lb.UpdatedAt, b.CreatedAt)

	for _, ll := range lb.Lanes {
		l := board.Lane{
			ID:        ll.ID,
			BoardID:   b.ID,
			Title:     ll.Title,
			Position:  ll.Position,
			CreatedAt: legacyTime(ll.CreatedAt, b.CreatedAt),
			UpdatedAt: legacyTime(ll.UpdatedAt, b.UpdatedAt),
		}

		for _, lc := range ll.Cards {
			l.Cards = append(l.Cards, board.Card{
				ID:          lc.ID,
				LaneID:      l.ID,
				Title:       lc.Title,
				Description: lc.Description,
				Position:    lc.Position,
				CreatedAt:   legacyTime(lc.CreatedAt, l.CreatedAt),
				UpdatedAt:   legacyTime(lc.UpdatedAt, l.UpdatedAt),
				Tags:        legacyTags(lc.Tags),
			})
		}

		b.Lanes = append(b.Lanes, l)
	}

	return b
}

func legacyTime(s string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fallback
	}

	return board.Timestamp(t)
}

func legacyTags(tags []legacyTag) []board.Tag {
	if len(tags) == 0 {
		return nil
	}

	out := make([]board.Tag, len(tags))
	for i, t := range tags {
		out[i] = board.Tag(t)
	}

	return out
}
