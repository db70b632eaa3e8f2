// Package watch revalidates change-spec documents as they are edited.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/specmerge/metrics"
	"github.com/c360studio/specmerge/source/parser"
	"github.com/c360studio/specmerge/workflow/validation"
)

const (
	// eventChannelBuffer is the size of the watch event channel.
	eventChannelBuffer = 500

	// DefaultDebounce is used when no debounce delay is configured.
	DefaultDebounce = 500 * time.Millisecond
)

// Operation indicates the type of file operation.
type Operation string

// OpCreate, OpModify, and OpDelete enumerate the watch operation types.
const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Event reports a change to one change-spec document.
type Event struct {
	// Path is the slash-separated path relative to the repository root.
	Path string

	// AbsPath is the absolute file path.
	AbsPath string

	// Operation is the type of change.
	Operation Operation

	// Result holds the validation outcome; nil for deletions.
	Result *validation.Result
}

// Option configures a SpecWatcher.
type Option func(*SpecWatcher)

// WithDebounce sets how long changes are collected before they are
// validated.
func WithDebounce(d time.Duration) Option {
	return func(w *SpecWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *SpecWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records a validation sample per emitted event.
func WithMetrics(r *metrics.Recorder) Option {
	return func(w *SpecWatcher) {
		w.metrics = r
	}
}

// SpecWatcher watches the changes directory and validates change-spec
// documents after they settle.
type SpecWatcher struct {
	repoRoot   string
	changesDir string
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	metrics    *metrics.Recorder

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Hash-based change detection, keyed by repo-relative path
	hashMu sync.RWMutex
	hashes map[string]string

	events chan Event

	droppedEvents atomic.Int64
}

// NewSpecWatcher creates a watcher for <repoRoot>/<changesDir>.
func NewSpecWatcher(repoRoot, changesDir string, opts ...Option) (*SpecWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &SpecWatcher{
		repoRoot:   repoRoot,
		changesDir: path.Clean(filepath.ToSlash(changesDir)),
		debounce:   DefaultDebounce,
		watcher:    fsw,
		logger:     slog.Default(),
		pending:    make(map[string]fsnotify.Op),
		hashes:     make(map[string]string),
		events:     make(chan Event, eventChannelBuffer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Events returns the channel of watch events. It is closed when the
// watcher stops.
func (w *SpecWatcher) Events() <-chan Event {
	return w.events
}

// Start begins watching the changes directory.
func (w *SpecWatcher) Start(ctx context.Context) error {
	root := w.changesRoot()
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}

	if err := w.addWatchesRecursive(root); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Change spec watcher started",
		"changes_dir", root,
		"debounce", w.debounce)

	return nil
}

// Stop stops the watcher.
// The events channel is closed by processEvents when it exits.
func (w *SpecWatcher) Stop() error {
	return w.watcher.Close()
}

// SetHash records the hash for a repo-relative path.
func (w *SpecWatcher) SetHash(rel, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[rel] = hash
}

// GetHash returns the recorded hash for a repo-relative path.
func (w *SpecWatcher) GetHash(rel string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	hash, ok := w.hashes[rel]
	return hash, ok
}

// DroppedEvents returns the number of events dropped due to channel overflow.
func (w *SpecWatcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

func (w *SpecWatcher) changesRoot() string {
	return filepath.Join(w.repoRoot, filepath.FromSlash(w.changesDir))
}

// relPath converts an absolute path to a slash-separated repo-relative path.
func (w *SpecWatcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.repoRoot, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// addWatchesRecursive adds watches to all non-hidden directories below root.
func (w *SpecWatcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		base := d.Name()
		if p != root && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(p); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", p,
				"error", err)
		} else {
			w.logger.Debug("Watching directory", "path", p)
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *SpecWatcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent queues change-spec files and follows new directories.
func (w *SpecWatcher) handleFSEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.handleNewDirectory(event.Name)
			return
		}
	}

	rel, ok := w.relPath(event.Name)
	if !ok || !validation.IsChangeSpecPath(w.changesDir, rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Change spec change detected",
		"path", rel,
		"op", event.Op.String())
}

// handleNewDirectory watches a newly created directory tree and queues any
// documents written into it before the watch was in place.
func (w *SpecWatcher) handleNewDirectory(dir string) {
	if strings.HasPrefix(filepath.Base(dir), ".") {
		return
	}
	if err := w.addWatchesRecursive(dir); err != nil {
		w.logger.Warn("Failed to watch new directory",
			"path", dir,
			"error", err)
		return
	}

	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.relPath(p); ok && validation.IsChangeSpecPath(w.changesDir, rel) {
			w.pendingMu.Lock()
			w.pending[p] |= fsnotify.Create
			w.pendingMu.Unlock()
		}
		return nil
	})
}

// flushPending validates accumulated changes.
func (w *SpecWatcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for abs, op := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rel, ok := w.relPath(abs)
		if !ok {
			continue
		}
		event := Event{Path: rel, AbsPath: abs}

		content, err := os.ReadFile(abs)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("Failed to read change spec",
					"path", rel,
					"error", err)
				continue
			}
			w.hashMu.Lock()
			_, known := w.hashes[rel]
			delete(w.hashes, rel)
			w.hashMu.Unlock()
			if known || op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
				event.Operation = OpDelete
				w.sendEvent(event)
			}
			continue
		}

		newHash := parser.ContentHash(content)
		oldHash, hadHash := w.GetHash(rel)
		if hadHash && oldHash == newHash {
			continue
		}
		w.SetHash(rel, newHash)

		if hadHash {
			event.Operation = OpModify
		} else {
			event.Operation = OpCreate
		}

		event.Result = validation.ValidateChangeSpec(string(content))
		w.metrics.Validation(event.Result.OK)
		if !event.Result.OK {
			w.logger.Debug("Change spec failed validation",
				"path", rel,
				"codes", event.Result.Codes())
		}
		w.sendEvent(event)
	}
}

// sendEvent sends an event to the output channel.
func (w *SpecWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Sent watch event",
			"path", event.Path,
			"op", event.Operation)
	default:
		dropped := w.droppedEvents.Add(1)
		w.logger.Warn("Event channel full, dropping event",
			"path", event.Path,
			"total_dropped", dropped)
	}
}
