package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"
)

// DefaultReloadDelay is how long the watcher waits for further changes
// before reloading the catalog.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a catalog whenever its files change. The catalog is a
// directory tree or a single file; a single file is watched through its
// parent directory. A reload that fails is logged and the previously
// published catalog stays in effect.
type Watcher struct {
	path     string
	dir      string // watched root
	file     string // set when path is a single catalog file
	delay    time.Duration
	logger   *zap.Logger
	onReload func(*Catalog)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets the batching delay between a change and the reload.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.delay = d }
}

// WithWatcherLogger sets the logger used for reload reporting.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher for the catalog at path that publishes every
// successfully reloaded catalog through onReload.
func NewWatcher(path string, onReload func(*Catalog), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		dir:      path,
		delay:    DefaultReloadDelay,
		logger:   zap.NewNop(),
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// resolve switches to single-file mode when path is not a directory.
func (w *Watcher) resolve() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		w.dir, w.file = w.path, ""
		return nil
	}
	w.file = filepath.Clean(w.path)
	w.dir = filepath.Dir(w.file)
	return nil
}

// Run watches the catalog until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.resolve(); err != nil {
		return fmt.Errorf("resolving catalog path: %w", err)
	}

	matcher, err := loadGitignoreMatcher(w.dir)
	if err != nil {
		return fmt.Errorf("loading .gitignore: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addWatches(fsw, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	pending := 0
	batchTimer := time.NewTimer(w.delay)
	batchTimer.Stop()
	defer batchTimer.Stop()

	w.logger.Info("watching catalog", zap.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.shouldReload(event, matcher) {
				continue
			}
			pending++
			batchTimer.Reset(w.delay)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watch error", zap.Error(err))

		case <-batchTimer.C:
			if pending == 0 {
				continue
			}
			w.reload(pending)
			pending = 0
		}
	}
}

// addWatches registers the parent directory of a single file, or every
// directory of the tree that is not ignored.
func (w *Watcher) addWatches(fsw *fsnotify.Watcher, matcher gitignore.Matcher) error {
	if w.file != "" {
		return fsw.Add(w.dir)
	}
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.dir && w.ignored(path, true, matcher) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) reload(changes int) {
	c, err := Load(w.path)
	if err != nil {
		w.logger.Error("reloading catalog", zap.Error(err), zap.Int("changes", changes))
		return
	}
	w.logger.Info("catalog reloaded",
		zap.Int("modules", c.ModuleCount()),
		zap.Int("changes", changes),
	)
	if w.onReload != nil {
		w.onReload(c)
	}
}

func (w *Watcher) shouldReload(event fsnotify.Event, matcher gitignore.Matcher) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.file != "" {
		return filepath.Clean(event.Name) == w.file
	}
	if !IsCatalogFile(event.Name) {
		return false
	}
	return !w.ignored(event.Name, false, matcher)
}

func (w *Watcher) ignored(path string, isDir bool, matcher gitignore.Matcher) bool {
	relPath, err := filepath.Rel(w.dir, path)
	if err != nil {
		return true
	}
	return matcher.Match(strings.Split(relPath, string(filepath.Separator)), isDir)
}
