package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360studio/specmerge/metrics"
	"github.com/c360studio/specmerge/source/parser"
	"github.com/c360studio/specmerge/storage"
	"github.com/c360studio/specmerge/workflow"
	"github.com/c360studio/specmerge/workflow/validation"
)

// PlanItem is one change-spec document and the canonical spec it targets.
type PlanItem struct {
	CanonicalRelPath  string      `json:"canonical"`
	ChangeSpecRelPath string      `json:"change_spec"`
	Kind              parser.Kind `json:"kind"`
}

// Counts holds the sizes of the summary lists.
type Counts struct {
	Created  int `json:"created"`
	Modified int `json:"modified"`
	Skipped  int `json:"skipped"`
}

// Summary is the machine-readable result of a merge run.
type Summary struct {
	Change   string   `json:"change"`
	DryRun   bool     `json:"dryRun"`
	Counts   Counts   `json:"counts"`
	Created  []string `json:"created"`
	Modified []string `json:"modified"`
	Skipped  []string `json:"skipped"`

	// Ops tallies the patch operations applied across all delta documents.
	Ops OpCounts `json:"-"`
}

func newSummary(change string, dryRun bool) *Summary {
	return &Summary{
		Change:   change,
		DryRun:   dryRun,
		Created:  []string{},
		Modified: []string{},
		Skipped:  []string{},
	}
}

func (s *Summary) finalize() {
	sort.Strings(s.Created)
	sort.Strings(s.Modified)
	sort.Strings(s.Skipped)
	s.Counts = Counts{
		Created:  len(s.Created),
		Modified: len(s.Modified),
		Skipped:  len(s.Skipped),
	}
}

// JSON renders the summary with two-space indentation and a trailing
// newline.
func (s *Summary) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return buf.Bytes(), nil
}

// Merger plans and applies the documents of a change.
type Merger struct {
	layout  *workflow.Manager
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	atomic  bool
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Merger) {
		m.metrics = r
	}
}

// WithAtomic stages every write in memory and commits only when the whole
// plan succeeds. Later items observe earlier staged writes.
func WithAtomic(atomic bool) Option {
	return func(m *Merger) {
		m.atomic = atomic
	}
}

// NewMerger creates a merger over the given layout and store.
func NewMerger(layout *workflow.Manager, store storage.Store, opts ...Option) *Merger {
	m := &Merger{
		layout: layout,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Plan discovers, validates and orders the documents of change. The first
// invalid document aborts planning with an *InvalidSpecError.
func (m *Merger) Plan(ctx context.Context, change string) ([]PlanItem, error) {
	rels, err := m.layout.ListChangeSpecs(change)
	if err != nil {
		return nil, err
	}

	plan := make([]PlanItem, 0, len(rels))
	for _, rel := range rels {
		canonical, err := m.layout.CanonicalPath(change, rel)
		if err != nil {
			return nil, err
		}
		plan = append(plan, PlanItem{CanonicalRelPath: canonical, ChangeSpecRelPath: rel})
	}

	for i := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := m.store.Read(ctx, plan[i].ChangeSpecRelPath)
		if err != nil {
			return nil, err
		}

		result := validation.ValidateChangeSpec(string(data))
		m.metrics.Validation(result.OK)
		if !result.OK {
			return nil, &InvalidSpecError{Path: plan[i].ChangeSpecRelPath, Issues: result.Issues}
		}
		plan[i].Kind = result.Kind
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].CanonicalRelPath < plan[j].CanonicalRelPath
	})
	return plan, nil
}

// Run merges change into the canonical tree. With dryRun set every read,
// validation and patch still happens but nothing is written. Without the
// atomic option, items applied before a failure stay written.
func (m *Merger) Run(ctx context.Context, change string, dryRun bool) (*Summary, error) {
	start := time.Now()
	summary, err := m.run(ctx, change, dryRun)
	m.metrics.Run(err, time.Since(start))
	return summary, err
}

func (m *Merger) run(ctx context.Context, change string, dryRun bool) (*Summary, error) {
	logger := m.logger.With("change", change, "dry_run", dryRun)

	plan, err := m.Plan(ctx, change)
	if err != nil {
		return nil, err
	}
	logger.Debug("merge plan ready", "documents", len(plan))

	store := m.store
	var (
		staged *storage.Staged
		dry    *storage.DryRun
	)
	switch {
	case dryRun:
		dry = storage.NewDryRun(m.store)
		store = dry
	case m.atomic:
		staged = storage.NewStaged(m.store)
		store = staged
	}

	abort := func(err error) (*Summary, error) {
		if staged != nil {
			logger.Warn("discarding staged writes",
				"pending", len(staged.Pending()),
				"error", err)
			staged.Discard()
		}
		return nil, err
	}

	summary := newSummary(change, dryRun)
	for _, item := range plan {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		created, ops, err := m.apply(ctx, store, item)
		if err != nil {
			return abort(err)
		}

		if created {
			summary.Created = append(summary.Created, item.CanonicalRelPath)
		} else {
			summary.Modified = append(summary.Modified, item.CanonicalRelPath)
		}
		summary.Ops.Add(ops)

		logger.Info("applied change spec",
			"change_spec", item.ChangeSpecRelPath,
			"canonical", item.CanonicalRelPath,
			"kind", item.Kind,
			"created", created)
	}

	if staged != nil {
		if err := staged.Commit(ctx); err != nil {
			return nil, err
		}
	}
	if dry != nil {
		logger.Debug("dry run suppressed writes", "paths", dry.Suppressed())
	}

	m.metrics.Operations(OpRemoved, summary.Ops.Removed)
	m.metrics.Operations(OpModified, summary.Ops.Modified)
	m.metrics.Operations(OpAdded, summary.Ops.Added)
	m.metrics.Operations(OpCleaned, summary.Ops.Cleaned)

	summary.finalize()
	return summary, nil
}

// apply writes one plan item through store and reports whether the canonical
// document was newly created.
func (m *Merger) apply(ctx context.Context, store storage.Store, item PlanItem) (bool, OpCounts, error) {
	data, err := store.Read(ctx, item.ChangeSpecRelPath)
	if err != nil {
		return false, OpCounts{}, err
	}
	doc := parser.SplitChangeSpec(string(data))

	exists, err := store.Exists(ctx, item.CanonicalRelPath)
	if err != nil {
		return false, OpCounts{}, err
	}

	switch item.Kind {
	case parser.KindNew:
		body := parser.TrimLeadingBlankLines(doc.Body)
		if err := store.Write(ctx, item.CanonicalRelPath, []byte(body)); err != nil {
			return false, OpCounts{}, err
		}
		return !exists, OpCounts{}, nil

	case parser.KindDelta:
		if !exists {
			return false, OpCounts{}, fmt.Errorf("%w: %s", ErrMissingCanonical, item.CanonicalRelPath)
		}

		canonical, err := store.Read(ctx, item.CanonicalRelPath)
		if err != nil {
			return false, OpCounts{}, err
		}

		result, err := Patch(string(canonical), doc.Body, item.ChangeSpecRelPath)
		if err != nil {
			return false, OpCounts{}, err
		}

		if err := store.Write(ctx, item.CanonicalRelPath, []byte(result.Text)); err != nil {
			return false, OpCounts{}, err
		}
		return false, result.Ops, nil

	default:
		return false, OpCounts{}, fmt.Errorf("unsupported change spec kind %q: %s", item.Kind, item.ChangeSpecRelPath)
	}
}
