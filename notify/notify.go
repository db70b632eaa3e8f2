// Package notify publishes merge results to NATS so other services can react
// to canonical spec changes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/specmerge/workflow"
	"github.com/c360studio/specmerge/workflow/merge"
)

const (
	// DefaultSubject is the subject prefix used when none is configured.
	DefaultSubject = "specmerge.merged"

	// defaultFlushTimeout bounds the flush when ctx carries no deadline.
	defaultFlushTimeout = 5 * time.Second
)

// Event is the payload published after a merge run.
type Event struct {
	ID       string         `json:"id"`
	RunID    string         `json:"run_id"`
	Change   string         `json:"change"`
	DryRun   bool           `json:"dry_run"`
	Summary  *merge.Summary `json:"summary"`
	MergedAt time.Time      `json:"merged_at"`
}

// Publisher delivers merge events.
type Publisher interface {
	Publish(ctx context.Context, runID string, summary *merge.Summary) error
	Close()
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, *merge.Summary) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}

// NATSPublisher publishes events as JSON to <subject>.<change-slug>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
	logger  *slog.Logger
}

// NewNATSPublisher wraps an existing connection. Close leaves the
// connection open.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, subject string, timeout time.Duration, logger *slog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{nats.Name("specmerge")}
	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	p := NewNATSPublisher(nc, subject, logger)
	p.owned = true
	return p, nil
}

// Conn returns the underlying connection.
func (p *NATSPublisher) Conn() *nats.Conn {
	return p.nc
}

// Subject returns the subject events for change are published to.
func (p *NATSPublisher) Subject(change string) string {
	return p.subject + "." + workflow.Slugify(change)
}

// Publish sends the event and waits for the server to acknowledge the
// flush, bounded by ctx.
func (p *NATSPublisher) Publish(ctx context.Context, runID string, summary *merge.Summary) error {
	if summary == nil {
		return fmt.Errorf("publish merge event: nil summary")
	}

	event := Event{
		ID:       uuid.New().String(),
		RunID:    runID,
		Change:   summary.Change,
		DryRun:   summary.DryRun,
		Summary:  summary,
		MergedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal merge event: %w", err)
	}

	subject := p.Subject(summary.Change)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish merge event: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush merge event: %w", err)
	}

	p.logger.Debug("Published merge event",
		"subject", subject,
		"event_id", event.ID,
		"run_id", runID)
	return nil
}

// Close drains and closes the connection if the publisher dialed it.
func (p *NATSPublisher) Close() {
	if !p.owned || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
