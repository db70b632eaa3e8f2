package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DryRun passes reads through to the wrapped store and discards writes,
// remembering which paths would have been written. Later reads observe the
// underlying store, not discarded writes.
type DryRun struct {
	Store

	mu      sync.Mutex
	written []string
}

// NewDryRun wraps s.
func NewDryRun(s Store) *DryRun {
	return &DryRun{Store: s}
}

// Write records rel and returns without touching the underlying store.
func (d *DryRun) Write(_ context.Context, rel string, _ []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, rel)
	return nil
}

// Suppressed returns the paths whose writes were discarded, in call order.
func (d *DryRun) Suppressed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.written...)
}

// Staged buffers writes in memory until Commit. Reads and existence checks
// see staged content first, so a sequence of patches against the same path
// composes exactly as it would on disk.
type Staged struct {
	base Store

	mu      sync.Mutex
	pending map[string][]byte
}

// NewStaged wraps base.
func NewStaged(base Store) *Staged {
	return &Staged{base: base, pending: make(map[string][]byte)}
}

// Read returns staged content for rel if present, else the base content.
func (s *Staged) Read(ctx context.Context, rel string) ([]byte, error) {
	s.mu.Lock()
	data, ok := s.pending[rel]
	s.mu.Unlock()
	if ok {
		return append([]byte(nil), data...), nil
	}
	return s.base.Read(ctx, rel)
}

// Write stages data for rel.
func (s *Staged) Write(_ context.Context, rel string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rel] = append([]byte(nil), data...)
	return nil
}

// Exists reports staged paths as existing.
func (s *Staged) Exists(ctx context.Context, rel string) (bool, error) {
	s.mu.Lock()
	_, ok := s.pending[rel]
	s.mu.Unlock()
	if ok {
		return true, nil
	}
	return s.base.Exists(ctx, rel)
}

// Pending returns the staged paths in sorted order.
func (s *Staged) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.pending))
	for rel := range s.pending {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// Commit writes every staged document to the base store in path order and
// clears the buffer. A failure stops the commit at the failing path.
func (s *Staged) Commit(ctx context.Context) error {
	for _, rel := range s.Pending() {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		data := s.pending[rel]
		s.mu.Unlock()

		if err := s.base.Write(ctx, rel, data); err != nil {
			return fmt.Errorf("commit %s: %w", rel, err)
		}

		s.mu.Lock()
		delete(s.pending, rel)
		s.mu.Unlock()
	}
	return nil
}

// Discard drops all staged writes.
func (s *Staged) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string][]byte)
}
