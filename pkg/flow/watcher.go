package flow

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a Catalog when files in its directory change.
// Bursts of events are collapsed into one reload.
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func()

	done     chan struct{}
	timerMu  sync.Mutex
	timer    *time.Timer
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the catalog's directory. onReload, if
// non-nil, runs after every reload.
func NewWatcher(c *Catalog, debounce time.Duration, onReload func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		catalog:  c,
		watcher:  fw,
		debounce: debounce,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is created if missing.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.catalog.Dir(), 0755); err != nil {
		return fmt.Errorf("create flow dir: %w", err)
	}
	if err := w.watcher.Add(w.catalog.Dir()); err != nil {
		return fmt.Errorf("failed to watch flow dir: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.catalog.Dir()).Msg("Flow watcher started")
	return nil
}

// Stop stops the watcher and cancels any pending reload.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		err = w.watcher.Close()
		log.Info().Msg("Flow watcher stopped")
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isFlowFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Flow watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.catalog.Load(); err != nil {
			log.Error().Err(err).Msg("Flow catalog reload failed")
			return
		}
		if w.onReload != nil {
			w.onReload()
		}
	})
}
