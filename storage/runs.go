package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketRuns is the default KV bucket holding merge run records.
const BucketRuns = "SPECMERGE_RUNS"

// Run outcomes.
const (
	RunResultOK     = "ok"
	RunResultFailed = "failed"
)

// RunRecord describes one merge invocation.
type RunRecord struct {
	ID         string    `json:"id"`
	Change     string    `json:"change"`
	DryRun     bool      `json:"dry_run"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	Created    []string  `json:"created"`
	Modified   []string  `json:"modified"`
	Skipped    []string  `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunStore keeps merge run records in a JetStream KV bucket keyed by run ID.
type RunStore struct {
	runs jetstream.KeyValue
}

// NewRunStore opens the named bucket, creating it if it doesn't exist.
func NewRunStore(ctx context.Context, js jetstream.JetStream, bucket string) (*RunStore, error) {
	if bucket == "" {
		bucket = BucketRuns
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("open runs bucket: %w", err)
		}
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "specmerge run history",
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("create runs bucket: %w", err)
		}
	}

	return &RunStore{runs: kv}, nil
}

// Put stores or replaces a run record.
func (s *RunStore) Put(ctx context.Context, r *RunRecord) error {
	if r.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	if _, err := s.runs.Put(ctx, r.ID, data); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

// Get retrieves a run record by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	entry, err := s.runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	var r RunRecord
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

// List returns run records newest first, optionally restricted to one change.
func (s *RunStore) List(ctx context.Context, change string) ([]*RunRecord, error) {
	keys, err := s.runs.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list run keys: %w", err)
	}

	records := make([]*RunRecord, 0, len(keys))
	for _, key := range keys {
		r, err := s.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		if change != "" && r.Change != change {
			continue
		}
		records = append(records, r)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}
