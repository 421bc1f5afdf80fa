package offsets

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a table file into a Holder whenever it changes on disk.
// The directory is watched rather than the file so that editors that
// replace the file by rename are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	holder   *Holder
	debounce time.Duration

	mu        sync.Mutex
	callbacks []func(*Table)
	done      chan struct{}
	stopOnce  sync.Once
}

func NewWatcher(path string, holder *Holder) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create offsets watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		watcher:  w,
		path:     abs,
		holder:   holder,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback run after a table has been swapped in.
func (w *Watcher) OnReload(cb func(*Table)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

func (w *Watcher) Start() {
	go func() {
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				w.reload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("offsets watcher error")
			case <-w.done:
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()
}

func (w *Watcher) reload() {
	t, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("offsets reload rejected, keeping current table")
		return
	}
	w.holder.Store(t)
	log.Info().Str("version", t.Version).Msg("offsets reloaded")

	w.mu.Lock()
	cbs := append([]func(*Table){}, w.callbacks...)
	w.mu.Unlock()
	for _, cb := range cbs {
		cb(t)
	}
}

func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
