package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Info describes a marker currently present in the lock directory.
type Info struct {
	Name    string
	Path    string
	ModTime time.Time
	Marker  Marker

	// Valid is false when the marker content could not be parsed.
	Valid bool
}

// List returns the markers in the lock directory sorted by name.
// A missing lock directory yields an empty list.
func (m *Manager) List() ([]Info, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read lock dir: %w", err)
	}

	infos := make([]Info, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), markerSuffix) {
			continue
		}

		path := filepath.Join(m.dir, e.Name())

		fi, err := e.Info()
		if err != nil {
			continue
		}

		data, err := m.fs.ReadFile(path)
		if err != nil {
			continue
		}

		mk, parseErr := parseMarker(data)

		infos = append(infos, Info{
			Name:    strings.TrimSuffix(e.Name(), markerSuffix),
			Path:    path,
			ModTime: fi.ModTime(),
			Marker:  mk,
			Valid:   parseErr == nil,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos, nil
}

// CleanupStale removes markers left behind by holders that are gone.
//
// A marker is only considered once it is older than the configured
// staleness threshold. It is then removed if its lease has expired, if its
// owner is a dead process on this host, or if its content is unreadable.
// Returns the number of markers removed.
func (m *Manager) CleanupStale() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0

	var errs []error

	for _, info := range infos {
		if now.Sub(info.ModTime) < m.staleAfter {
			continue
		}

		if info.Valid && !m.abandoned(info.Marker, now) {
			continue
		}

		if err := m.fs.Remove(info.Path); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("remove stale marker %s: %w", info.Name, err))
			}

			continue
		}

		removed++

		m.log.WithFields(log.Fields{
			"lock": info.Name,
			"pid":  info.Marker.PID,
			"age":  now.Sub(info.ModTime).Round(time.Second),
		}).Warn("removed stale lock")
	}

	return removed, errors.Join(errs...)
}

// abandoned reports whether the holder recorded in mk can no longer be
// holding the lock.
func (m *Manager) abandoned(mk Marker, now time.Time) bool {
	if mk.ExpiresAt.IsZero() || now.After(mk.ExpiresAt) {
		return true
	}

	if mk.Host != "" && mk.Host != m.host {
		return false
	}

	return !processAlive(mk.PID)
}

// processAlive checks pid with signal 0. EPERM means the process exists
// but belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}
