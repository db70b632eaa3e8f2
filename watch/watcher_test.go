package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360studio/specmerge/metrics"
	"github.com/c360studio/specmerge/workflow/validation"
)

const validNew = "---\nkind: new\n---\n# Auth\n\n## Overview\n\nLogin.\n\n## Requirements\n\n### Login\n- Email\n"

func writeSpec(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write spec: %v", err)
	}
	return full
}

func newTestWatcher(t *testing.T, root string, opts ...Option) *SpecWatcher {
	t.Helper()
	w, err := NewSpecWatcher(root, "changes", opts...)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func drain(w *SpecWatcher) []Event {
	var events []Event
	for {
		select {
		case e := <-w.events:
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestNewSpecWatcher_Options(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), WithDebounce(50*time.Millisecond))
	if w.debounce != 50*time.Millisecond {
		t.Errorf("expected debounce 50ms, got %v", w.debounce)
	}

	w = newTestWatcher(t, t.TempDir(), WithDebounce(0))
	if w.debounce != DefaultDebounce {
		t.Errorf("expected default debounce, got %v", w.debounce)
	}
}

func TestHandleFSEvent_Filters(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	tests := []struct {
		rel    string
		queued bool
	}{
		{"changes/auth/specs/auth.md", true},
		{"changes/auth/specs/nested/billing.md", true},
		{"changes/auth/notes.md", false},
		{"changes/auth/specs/auth.txt", false},
		{"specs/auth.md", false},
	}

	for _, tt := range tests {
		abs := filepath.Join(root, filepath.FromSlash(tt.rel))
		w.handleFSEvent(fsnotify.Event{Name: abs, Op: fsnotify.Write})

		w.pendingMu.Lock()
		_, queued := w.pending[abs]
		w.pendingMu.Unlock()
		if queued != tt.queued {
			t.Errorf("%s: queued = %v, want %v", tt.rel, queued, tt.queued)
		}
	}
}

func TestFlushPending_ValidatesAndDedupes(t *testing.T) {
	root := t.TempDir()
	rec := metrics.New()
	w := newTestWatcher(t, root, WithMetrics(rec))
	ctx := context.Background()

	abs := writeSpec(t, root, "changes/auth/specs/auth.md", validNew)
	w.handleFSEvent(fsnotify.Event{Name: abs, Op: fsnotify.Create})
	w.flushPending(ctx)

	events := drain(w)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Operation != OpCreate {
		t.Errorf("expected create operation, got %s", events[0].Operation)
	}
	if events[0].Path != "changes/auth/specs/auth.md" {
		t.Errorf("unexpected path %s", events[0].Path)
	}
	if events[0].Result == nil || !events[0].Result.OK {
		t.Errorf("expected valid result, got %+v", events[0].Result)
	}

	// Same content again produces nothing
	w.handleFSEvent(fsnotify.Event{Name: abs, Op: fsnotify.Write})
	w.flushPending(ctx)
	if events := drain(w); len(events) != 0 {
		t.Errorf("expected unchanged content to be skipped, got %d events", len(events))
	}

	// Break the document
	writeSpec(t, root, "changes/auth/specs/auth.md", "# Auth\n")
	w.handleFSEvent(fsnotify.Event{Name: abs, Op: fsnotify.Write})
	w.flushPending(ctx)

	events = drain(w)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Operation != OpModify {
		t.Errorf("expected modify operation, got %s", events[0].Operation)
	}
	if events[0].Result.OK || !events[0].Result.HasIssue(validation.CodeFrontmatterMissing) {
		t.Errorf("expected frontmatter issue, got %v", events[0].Result.Codes())
	}

	count, err := testutil.GatherAndCount(rec.Registry(), "specmerge_validation_documents_total")
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if count != 2 {
		t.Errorf("expected valid and invalid series, got %d", count)
	}
}

func TestFlushPending_Delete(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)
	ctx := context.Background()

	abs := writeSpec(t, root, "changes/auth/specs/auth.md", validNew)
	w.handleFSEvent(fsnotify.Event{Name: abs, Op: fsnotify.Create})
	w.flushPending(ctx)
	drain(w)

	if err := os.Remove(abs); err != nil {
		t.Fatalf("failed to remove spec: %v", err)
	}
	w.handleFSEvent(fsnotify.Event{Name: abs, Op: fsnotify.Remove})
	w.flushPending(ctx)

	events := drain(w)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Operation != OpDelete {
		t.Errorf("expected delete operation, got %s", events[0].Operation)
	}
	if events[0].Result != nil {
		t.Error("expected no validation result for delete")
	}
	if _, ok := w.GetHash("changes/auth/specs/auth.md"); ok {
		t.Error("expected hash to be cleared")
	}
}

func TestSpecWatcher_FileCreation(t *testing.T) {
	root := t.TempDir()
	specsDir := filepath.Join(root, "changes", "auth", "specs")
	if err := os.MkdirAll(specsDir, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	w := newTestWatcher(t, root, WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	// Give watcher time to set up
	time.Sleep(100 * time.Millisecond)

	writeSpec(t, root, "changes/auth/specs/auth.md", validNew)

	select {
	case event := <-w.Events():
		if event.Operation != OpCreate {
			t.Errorf("expected create operation, got %s", event.Operation)
		}
		if event.Path != "changes/auth/specs/auth.md" {
			t.Errorf("expected path changes/auth/specs/auth.md, got %s", event.Path)
		}
		if event.Result == nil || !event.Result.OK {
			t.Errorf("expected valid result, got %+v", event.Result)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for create event")
	}
}
