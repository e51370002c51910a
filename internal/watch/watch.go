// Package watch notices edits made to a lair by other programs and reloads
// the repository when one lands.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/dragonden/internal/storage"
)

// DefaultDebounce is the quiet period before a reload.
const DefaultDebounce = 300 * time.Millisecond

// Reloader is the part of the repository the watcher drives.
type Reloader interface {
	Reset() error
	// Owns reports whether the repository itself produced the file state sum
	// at loc; an empty sum means the file is gone.
	Owns(loc, sum string) bool
}

// Option configures Watch.
type Option func(*watcher)

// WithDebounce sets the quiet period that must follow the last record change
// before ownership is checked.
func WithDebounce(d time.Duration) Option {
	return func(w *watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *watcher) { w.logger = l }
}

// WithCallback registers fn to run after every reload attempt.
func WithCallback(fn func(err error)) Option {
	return func(w *watcher) { w.onReload = fn }
}

type watcher struct {
	root     string
	target   Reloader
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)
}

// Watch starts an fsnotify watcher on the lair root and processes record file
// changes until ctx is cancelled. Changed .toml files are collected until the
// debounce period passes; if any of them was not written by the repository
// itself, the repository is reloaded.
//
// New directories created at runtime are automatically added to the watch
// list.
func Watch(ctx context.Context, root string, target Reloader, opts ...Option) error {
	wt := &watcher{root: root, target: target, debounce: DefaultDebounce, logger: slog.Default()}
	for _, opt := range opts {
		opt(wt)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	wt.logger.Info("watcher: started", slog.String("root", root))

	pending := map[string]struct{}{}
	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(wt.debounce)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(wt.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			wt.logger.Info("watcher: stopped")
			return nil

		case <-reloadCh:
			if wt.anyForeign(pending) {
				wt.reload()
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						wt.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						wt.logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					continue
				}
			}
			if rel, ok := wt.record(ev); ok {
				pending[rel] = struct{}{}
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			wt.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// record returns the lair-relative path of ev when it touches a record file.
func (wt *watcher) record(ev fsnotify.Event) (string, bool) {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".toml") || strings.HasPrefix(name, storage.TempPrefix) {
		return "", false
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}
	rel, err := filepath.Rel(wt.root, ev.Name)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// anyForeign reports whether one of the changed files now holds content the
// repository did not write. Ownership is checked once the burst is over, by
// which time the repository has recorded its own writes.
func (wt *watcher) anyForeign(changed map[string]struct{}) bool {
	for rel := range changed {
		sum := ""
		data, err := os.ReadFile(filepath.Join(wt.root, filepath.FromSlash(rel)))
		switch {
		case err == nil:
			sum = storage.Checksum(data)
		case errors.Is(err, fs.ErrNotExist):
		default:
			wt.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		if !wt.target.Owns(rel, sum) {
			wt.logger.Debug("watcher: foreign change", slog.String("path", rel))
			return true
		}
	}
	return false
}

func (wt *watcher) reload() {
	start := time.Now()
	err := wt.target.Reset()
	if err != nil {
		wt.logger.Error("watcher: reload failed", slog.String("error", err.Error()))
	} else {
		wt.logger.Info("watcher: reloaded", slog.Duration("took", time.Since(start)))
	}
	if wt.onReload != nil {
		wt.onReload(err)
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
