package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/importer"
)

// NotesIndexer keeps the index in step with a notes directory. The engine
// implements it.
type NotesIndexer interface {
	importer.FileIndexer
	RemoveFile(ctx context.Context, path string) (int, error)
}

// DefaultSettle is how long a file must stay quiet before it is re-indexed.
const DefaultSettle = 300 * time.Millisecond

// NotesWatcher re-indexes markdown files under a directory when they are
// written and drops them from the index when they are removed or renamed
// away. Paths passed to the indexer are slash-separated and relative to the
// watched directory, matching what the vault importer produces.
type NotesWatcher struct {
	dir     string
	indexer NotesIndexer
	logger  *zap.Logger
	settle  time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// NotesOption configures a NotesWatcher.
type NotesOption func(*NotesWatcher)

// WithSettle sets the quiet period before a changed file is re-indexed.
func WithSettle(d time.Duration) NotesOption {
	return func(w *NotesWatcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithNotesLogger sets the structured logger.
func WithNotesLogger(l *zap.Logger) NotesOption {
	return func(w *NotesWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewNotesWatcher creates a watcher for dir.
func NewNotesWatcher(dir string, indexer NotesIndexer, opts ...NotesOption) *NotesWatcher {
	w := &NotesWatcher{
		dir:     filepath.Clean(dir),
		indexer: indexer,
		logger:  zap.NewNop(),
		settle:  DefaultSettle,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches dir and every non-hidden subdirectory. It does not index
// existing files; run the vault importer for that.
func (w *NotesWatcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTree(w.dir); err != nil {
		_ = fw.Close()
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	w.logger.Info("watching notes", zap.String("dir", w.dir))
	return nil
}

// Stop shuts the watcher down and waits for in-flight indexing.
func (w *NotesWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	w.cancel()
	_ = w.watcher.Close()
	<-w.done

	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *NotesWatcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *NotesWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, evt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("notes watcher error", zap.Error(err))
		}
	}
}

func (w *NotesWatcher) handle(ctx context.Context, evt fsnotify.Event) {
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(info.Name(), ".") {
				if err := w.addTree(evt.Name); err != nil {
					w.logger.Warn("failed to watch directory", zap.String("dir", evt.Name), zap.Error(err))
				}
			}
			return
		}
	}
	if !importer.IsMarkdown(evt.Name) {
		return
	}
	rel, ok := w.relPath(evt.Name)
	if !ok {
		return
	}

	switch {
	case evt.Has(fsnotify.Write), evt.Has(fsnotify.Create):
		w.schedule(ctx, evt.Name, rel)
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		w.unschedule(evt.Name)
		n, err := w.indexer.RemoveFile(ctx, rel)
		if err != nil {
			w.logger.Warn("failed to drop note", zap.String("path", rel), zap.Error(err))
			return
		}
		w.logger.Debug("dropped note", zap.String("path", rel), zap.Int("chunks", n))
	}
}

// relPath maps an absolute event path to an index path. Files in hidden
// directories are ignored.
func (w *NotesWatcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.dir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return rel, true
}

// schedule re-indexes abs once it has been quiet for the settle period.
func (w *NotesWatcher) schedule(ctx context.Context, abs, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[abs]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[abs] == t {
			delete(w.pending, abs)
		}
		w.mu.Unlock()
		w.index(ctx, abs, rel)
	})
	w.pending[abs] = t
}

func (w *NotesWatcher) unschedule(abs string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[abs]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, abs)
	}
}

func (w *NotesWatcher) index(ctx context.Context, abs, rel string) {
	if ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		// Removed before it settled; the remove event handles it.
		return
	}
	if strings.TrimSpace(string(data)) == "" {
		return
	}
	n, err := w.indexer.IndexFile(ctx, rel, data)
	if err != nil {
		w.logger.Warn("failed to index note", zap.String("path", rel), zap.Error(err))
		return
	}
	w.logger.Debug("indexed note", zap.String("path", rel), zap.Int("chunks", n))
}
