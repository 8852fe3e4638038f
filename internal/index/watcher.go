package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/models"
)

// Detector produces sync triggers until ctx is cancelled. A nil ids slice
// asks for a full pass; otherwise only the listed identities changed.
type Detector interface {
	Run(ctx context.Context, trigger func(ids []models.Identity)) error
}

// Ticker requests a full pass every Interval.
type Ticker struct {
	Interval time.Duration
}

// Run implements Detector.
func (t Ticker) Run(ctx context.Context, trigger func(ids []models.Identity)) error {
	if t.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	tk := time.NewTicker(t.Interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			trigger(nil)
		}
	}
}

// Resolver maps absolute file paths to note identities.
type Resolver interface {
	Root() string
	IdentityOf(absPath string) (models.Identity, bool)
}

// Watcher batches fsnotify events into debounced triggers.
//
// Events for note files are collected by identity. New directories are added
// to the watch list and, like renames, escalate the batch to a full pass
// because fsnotify does not report the files they bring along.
type Watcher struct {
	store    Resolver
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher over the vault resolved by store.
func NewWatcher(store Resolver, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{store: store, debounce: debounce, logger: logger}
}

// Run implements Detector.
func (w *Watcher) Run(ctx context.Context, trigger func(ids []models.Identity)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.store.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[models.Identity]struct{})
	full := false

	var timer *time.Timer
	var timerC <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerC:
			timer, timerC = nil, nil
			if full {
				w.logger.Debug("watcher: full pass requested")
				trigger(nil)
			} else if len(pending) > 0 {
				ids := make([]models.Identity, 0, len(pending))
				for id := range pending {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				w.logger.Debug("watcher: scoped pass requested", slog.Int("identities", len(ids)))
				trigger(ids)
			}
			pending = make(map[models.Identity]struct{})
			full = false

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if hidden(root, ev.Name) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						w.logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					full = true
					schedule()
					continue
				}
			}

			if ev.Op&fsnotify.Rename != 0 {
				full = true
				schedule()
				continue
			}

			id, isNote := w.store.IdentityOf(ev.Name)
			if !isNote {
				// A removed directory takes its notes with it.
				if ev.Op&fsnotify.Remove != 0 {
					full = true
					schedule()
				}
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Chmod) != 0 {
				pending[id] = struct{}{}
				schedule()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// hidden reports whether path lies under a dot-prefixed segment below root.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
