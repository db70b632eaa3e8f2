package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/specmerge/config"
	"github.com/c360studio/specmerge/metrics"
	"github.com/c360studio/specmerge/notify"
	"github.com/c360studio/specmerge/storage"
	"github.com/c360studio/specmerge/workflow"
	"github.com/c360studio/specmerge/workflow/merge"
)

// App wires configuration, storage, metrics and the optional NATS
// connection for one command invocation.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	runs      *storage.RunStore
	publisher notify.Publisher
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		publisher: notify.Nop{},
	}
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Metrics returns the metrics recorder.
func (a *App) Metrics() *metrics.Recorder {
	return a.metrics
}

// Layout returns the repository layout manager.
func (a *App) Layout() *workflow.Manager {
	return workflow.NewManagerWithLayout(a.cfg.Repo.Path, a.cfg.Layout.ChangesDir, a.cfg.Layout.SpecsDir)
}

// Store returns a file store rooted at the repository.
func (a *App) Store() *storage.FileStore {
	return storage.NewFileStore(a.cfg.Repo.Path)
}

// Runs returns the run history store, or nil when history is disabled.
func (a *App) Runs() *storage.RunStore {
	return a.runs
}

// Start connects to NATS when it is configured.
func (a *App) Start(ctx context.Context) error {
	if !a.cfg.NATS.Enabled() {
		return nil
	}

	if err := a.startNATS(); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	if a.cfg.NATS.HistoryBucket != "" {
		runs, err := storage.NewRunStore(ctx, a.js, a.cfg.NATS.HistoryBucket)
		if err != nil {
			return fmt.Errorf("initialize run history: %w", err)
		}
		a.runs = runs
	}
	return nil
}

func (a *App) startNATS() error {
	if !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Debug("Connecting to NATS", "url", a.cfg.NATS.URL)
		p, err := notify.Connect(a.cfg.NATS.URL, a.cfg.NATS.Subject, a.cfg.NATS.Timeout, a.logger)
		if err != nil {
			return err
		}
		a.publisher = p
		a.natsConn = p.Conn()
	} else {
		// Start embedded NATS server
		storeDir := a.cfg.NATS.StoreDir
		if !filepath.IsAbs(storeDir) {
			storeDir = filepath.Join(a.cfg.Repo.Path, storeDir)
		}
		a.logger.Debug("Starting embedded NATS server", "store_dir", storeDir)

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      -1, // Random available port
			JetStream: true,
			StoreDir:  storeDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		// Wait for server to be ready
		if !ns.ReadyForConnections(a.timeout()) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL(), nats.Name("specmerge"))
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
		a.publisher = notify.NewNATSPublisher(conn, a.cfg.NATS.Subject, a.logger)
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

func (a *App) timeout() time.Duration {
	if a.cfg.NATS.Timeout > 0 {
		return a.cfg.NATS.Timeout
	}
	return 5 * time.Second
}

// RecordRun stores a run record when history is enabled. Failures are
// logged and otherwise ignored.
func (a *App) RecordRun(ctx context.Context, rec *storage.RunRecord) {
	if a.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	if err := a.runs.Put(ctx, rec); err != nil {
		a.logger.Warn("Failed to record merge run", "run_id", rec.ID, "error", err)
	}
}

// PublishMerge announces a completed merge. Failures are logged and
// otherwise ignored.
func (a *App) PublishMerge(ctx context.Context, runID string, summary *merge.Summary) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	if err := a.publisher.Publish(ctx, runID, summary); err != nil {
		a.logger.Warn("Failed to publish merge event", "run_id", runID, "error", err)
	}
}

// Shutdown writes the metrics textfile and stops NATS.
func (a *App) Shutdown() {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("Failed to write metrics textfile",
			"path", a.cfg.Metrics.Textfile,
			"error", err)
	}

	a.publisher.Close()

	if a.natsConn != nil && !a.natsConn.IsClosed() {
		_ = a.natsConn.Flush()
		a.natsConn.Close()
	}

	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}
