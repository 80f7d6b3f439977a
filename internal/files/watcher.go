package files

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to the directories behind a set of arguments.
// Bursts of events are folded into one notification after a quiet period.
type Watcher struct {
	w        *fsnotify.Watcher
	debounce time.Duration
	onChange func()
}

// NewWatcher watches every directory argument and the parent directory of
// every file argument. onChange runs on the watcher goroutine.
func NewWatcher(args []string, debounce time.Duration, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("files: new watcher: %w", err)
	}

	seen := make(map[string]bool)
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			continue
		}
		dir := abs
		if st, err := os.Stat(abs); err != nil || !st.IsDir() {
			dir = filepath.Dir(abs)
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.Add(dir); err != nil {
			slog.Warn("cannot watch directory", "dir", dir, "error", err)
		}
	}

	return &Watcher{w: w, debounce: debounce, onChange: onChange}, nil
}

// Run delivers debounced change notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.w.Close(); err != nil {
			slog.Debug("watcher close failed", "error", err)
		}
	}()

	timer := time.NewTimer(w.debounce)
	stopTimer(timer)
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if !IsImage(ev.Name) {
				continue
			}
			slog.Debug("watched file changed", "path", ev.Name, "op", ev.Op.String())
			if pending {
				stopTimer(timer)
			}
			timer.Reset(w.debounce)
			pending = true
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		case <-timer.C:
			pending = false
			w.onChange()
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
