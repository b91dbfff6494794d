// Package hotreload turns file changes in the artifact output directory into
// full-reload directives. The artifact is written by a process outside the
// bundler's dependency graph, and its exports can change shape between builds,
// so a partial hot patch is never attempted.
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FullReload is the only directive type the watcher emits.
const FullReload = "full-reload"

// DefaultDebounce coalesces the burst of writes a single compile produces.
const DefaultDebounce = 100 * time.Millisecond

// Directive is sent to connected clients.
type Directive struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Watcher maps file events under root to reload directives.
type Watcher struct {
	root        string
	artifactDir string
	debounce    time.Duration
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce. Zero emits every directive.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New creates a Watcher for artifactDir, relative to root.
func New(root, artifactDir string, opts ...Option) *Watcher {
	w := &Watcher{
		root:        filepath.Clean(root),
		artifactDir: filepath.Clean(filepath.FromSlash(artifactDir)),
		debounce:    DefaultDebounce,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnFileChanged returns a full-reload directive when path lies under the
// artifact directory and nil otherwise. Relative paths are taken from root.
func (w *Watcher) OnFileChanged(path string) *Directive {
	rel := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(w.root, rel)
		if err != nil {
			return nil
		}
		rel = r
	}

	if rel != w.artifactDir && !strings.HasPrefix(rel, w.artifactDir+string(filepath.Separator)) {
		return nil
	}
	return &Directive{Type: FullReload, Path: filepath.ToSlash(rel)}
}

// Watch observes the artifact directory until ctx is done, passing each
// (debounced) directive to emit. emit must not block.
func (w *Watcher) Watch(ctx context.Context, emit func(Directive)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// The root is watched too so a deleted and recreated artifact dir is
	// picked up again.
	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	artifactPath := filepath.Join(w.root, w.artifactDir)
	w.addTree(fw, artifactPath)

	var (
		pending *Directive
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				w.watchCreated(fw, event.Name, artifactPath)
			}
			directive := w.OnFileChanged(event.Name)
			if directive == nil {
				continue
			}
			w.logger.Debug("artifact changed", zap.String("path", directive.Path), zap.String("op", event.Op.String()))

			if w.debounce <= 0 {
				emit(*directive)
				continue
			}
			pending = directive
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if pending != nil {
				w.logger.Info("artifact files changed, triggering full reload", zap.String("path", pending.Path))
				emit(*pending)
				pending = nil
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// watchCreated extends the watch to a directory created inside the artifact
// tree, or to an ancestor of a not yet existing artifact dir.
func (w *Watcher) watchCreated(fw *fsnotify.Watcher, name, artifactPath string) {
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() {
		return
	}
	switch {
	case name == artifactPath || strings.HasPrefix(name, artifactPath+string(filepath.Separator)):
		w.addTree(fw, name)
	case strings.HasPrefix(artifactPath, name+string(filepath.Separator)):
		w.addDir(fw, name)
		w.addTree(fw, artifactPath)
	}
}

// addTree watches dir and every directory below it; fsnotify is not
// recursive.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			w.addDir(fw, path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("cannot walk artifact dir", zap.String("dir", dir), zap.Error(err))
	}
}

func (w *Watcher) addDir(fw *fsnotify.Watcher, dir string) {
	if err := fw.Add(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("cannot watch artifact dir", zap.String("dir", dir), zap.Error(err))
	}
}
