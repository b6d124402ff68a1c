// Package watcher keeps the corpus in sync with directories on disk. File
// changes are debounced, re-ingested through the indexer, and followed by a
// single index rebuild once the burst of changes settles.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/indexer"
)

const (
	defaultDebounce     = 400 * time.Millisecond
	defaultRebuildDelay = time.Second
)

// Ingester is the part of the indexer the watcher drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string, allowedExts []string) (*indexer.IngestResult, error)
	IngestDirectory(ctx context.Context, dir string, allowedExts []string, recursive bool) (*indexer.IngestStats, error)
	DeleteFile(ctx context.Context, path string) error
	Rebuild(ctx context.Context) error
}

// Watcher watches directories and re-ingests changed files.
type Watcher struct {
	roots        []string
	extensions   []string
	recursive    bool
	ingester     Ingester
	debounce     time.Duration
	rebuildDelay time.Duration
	logger       *zap.Logger

	mu           sync.Mutex
	fsw          *fsnotify.Watcher
	ctx          context.Context
	pending      map[string]*time.Timer
	rebuildTimer *time.Timer
	started      bool
	done         chan struct{}
	stopOnce     sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before it is re-ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRebuildDelay sets how long the corpus must be quiet before indexes are rebuilt.
func WithRebuildDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.rebuildDelay = d
		}
	}
}

// NewWatcher creates a watcher over roots. extensions filters which files are
// ingested; empty means every file the extractor supports.
func NewWatcher(ingester Ingester, roots, extensions []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		roots:        cleanRoots(roots),
		extensions:   extensions,
		recursive:    recursive,
		ingester:     ingester,
		debounce:     defaultDebounce,
		rebuildDelay: defaultRebuildDelay,
		logger:       zap.NewNop(),
		pending:      make(map[string]*time.Timer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sync ingests every existing file under the roots and rebuilds the indexes
// once if anything changed.
func (w *Watcher) Sync(ctx context.Context) error {
	changed := false
	for _, root := range w.Directories() {
		stats, err := w.ingester.IngestDirectory(ctx, root, w.extensions, w.recursive)
		if err != nil {
			return err
		}
		changed = changed || stats.Indexed > 0
	}
	if !changed {
		return nil
	}
	return w.ingester.Rebuild(ctx)
}

// Start begins watching. Missing roots are created. It returns once the
// watches are in place; events are handled until ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.ctx = ctx
	w.started = true
	w.logger.Info("watching directories",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive),
	)
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) || hidden(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.scheduleIngest(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelIngest(path)
		if matchExtension(path, w.extensions) {
			w.remove(path)
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root and
// schedules the files already inside it, which may have been written before
// the watch was added.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(path) {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if !hidden(path) && matchExtension(path, w.extensions) {
			w.scheduleIngest(path)
		}
		return nil
	})
}

func (w *Watcher) scheduleIngest(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancelIngest(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	res, err := w.ingester.IngestFile(ctx, path, w.extensions)
	if err != nil {
		w.logger.Warn("failed to ingest changed file", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Skipped {
		return
	}
	w.logger.Debug("changed file ingested", zap.String("path", path))
	w.scheduleRebuild()
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if err := w.ingester.DeleteFile(ctx, path); err != nil {
		w.logger.Warn("failed to delete removed file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("removed file deleted", zap.String("path", path))
	w.scheduleRebuild()
}

// scheduleRebuild coalesces changes into one rebuild after rebuildDelay of quiet.
func (w *Watcher) scheduleRebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.rebuildTimer != nil {
		w.rebuildTimer.Stop()
	}
	w.rebuildTimer = time.AfterFunc(w.rebuildDelay, func() {
		w.mu.Lock()
		w.rebuildTimer = nil
		ctx := w.ctx
		w.mu.Unlock()
		if err := w.ingester.Rebuild(ctx); err != nil {
			w.logger.Error("rebuild after file changes failed", zap.Error(err))
		}
	})
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops watching and cancels pending work. Rebuilds already running are
// not interrupted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	if w.rebuildTimer != nil {
		w.rebuildTimer.Stop()
		w.rebuildTimer = nil
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if inDir(root, path) {
			return true
		}
	}
	return false
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
