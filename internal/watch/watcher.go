// Package watch detects external rewrites of the file-backed store slot.
//
// The slot is shared: another process (or another instance of the app)
// may overwrite it wholesale. There is no merge; the collection is simply
// reloaded and the last write wins.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dverkh/inkwell/internal/checksum"
	"github.com/dverkh/inkwell/internal/notestore"
)

// ReloadCallback is called after the store has been reloaded because of
// an external write.
type ReloadCallback func()

const debounce = 200 * time.Millisecond

// Watch monitors the slot file until ctx is cancelled. Events are
// debounced because an atomic rename shows up as a burst of create and
// write events. Writes made by this process are recognized by checksum
// and ignored.
func Watch(ctx context.Context, store *notestore.Store, slotPath string, logger *slog.Logger, cb ReloadCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the parent directory: the slot file is replaced by rename,
	// which would silently detach a watch on the file itself.
	dir := filepath.Dir(slotPath)
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("slot", slotPath))

	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			reloadIfChanged(store, slotPath, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != slotPath {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reloadIfChanged compares the on-disk payload with the last payload the
// store itself persisted and reloads only on a real external change.
func reloadIfChanged(store *notestore.Store, slotPath string, logger *slog.Logger, cb ReloadCallback) {
	data, err := os.ReadFile(slotPath)
	if err != nil {
		logger.Warn("watcher: read slot failed", slog.String("error", err.Error()))
		return
	}
	if checksum.Sum(data) == store.SavedChecksum() {
		return
	}

	logger.Info("watcher: external write detected, reloading")
	store.Reload()
	if cb != nil {
		cb()
	}
}
