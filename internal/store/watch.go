package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/calvinalkan/mdboard/internal/document"
)

// Watcher reports changes to board documents made by other processes or by
// hand. Writes of this process are reported too; invalidating twice is
// harmless.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	onChange func(stem string)
	log      log.FieldLogger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a Watcher for dir. onChange receives the file stem of
// every board document that was created, written, removed or renamed.
func NewWatcher(dir string, onChange func(stem string), logger log.FieldLogger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  w,
		dir:      dir,
		onChange: onChange,
		log:      logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("watcher already running")
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(1)

	go w.loop()

	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.done)
	}

	err := w.watcher.Close()
	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}

	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if stem, ok := documentStem(ev); ok {
				w.log.WithFields(log.Fields{"board": stem, "op": ev.Op.String()}).Debug("document changed on disk")
				w.onChange(stem)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.log.WithError(err).Warn("watcher error")
		}
	}
}

// documentStem returns the stem of the board document ev refers to. Temp
// files and lock markers are ignored.
func documentStem(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}

	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, document.Ext) {
		return "", false
	}

	return strings.TrimSuffix(name, document.Ext), true
}
