package bluez

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceDelay = 200 * time.Millisecond

// bondWatcher watches the BlueZ bond store of one adapter. BlueZ creates a
// directory per bonded device and removes it on unbond, so any change there is
// a hint that the bonded set moved, including bonds made by other tools.
type bondWatcher struct {
	fsWatcher *fsnotify.Watcher
	onChange  func()

	mu    sync.Mutex
	timer *time.Timer
}

func newBondWatcher(onChange func()) (*bondWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &bondWatcher{fsWatcher: fsw, onChange: onChange}, nil
}

// watch adds dir and runs the event loop until ctx is done or the watcher is closed.
func (w *bondWatcher) watch(ctx context.Context, dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = w.close()

				return
			case event, ok := <-w.fsWatcher.Events:
				if !ok {
					return
				}

				if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) ||
					event.Has(fsnotify.Rename) || event.Has(fsnotify.Write) {
					logger.Debug().
						Str("file", event.Name).
						Str("op", event.Op.String()).
						Msg("bond store change detected")

					w.debounce()
				}
			case err, ok := <-w.fsWatcher.Errors:
				if !ok {
					return
				}

				logger.Warn().Err(err).Msg("fsnotify error")
			}
		}
	}()

	return nil
}

// debounce fires onChange once changes stop for debounceDelay.
func (w *bondWatcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(debounceDelay, w.onChange)
}

func (w *bondWatcher) close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.fsWatcher.Close()
}
