package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/specmerge/storage"
	"github.com/c360studio/specmerge/workflow/merge"
)

type mergeFlags struct {
	change string
	dryRun bool
	atomic bool
}

func (f *mergeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.change, "change", "c", "", "Change name under the changes directory")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Compute the merge without writing canonical specs")
	cmd.Flags().BoolVar(&f.atomic, "atomic", false, "Write nothing unless every document applies")
}

func missingChange(example string) error {
	return fmt.Errorf("Missing required --change <name>. Example: %s --change auth-refresh", example)
}

// NewMergeCmd creates the merge subcommand.
func NewMergeCmd(opts *Options) *cobra.Command {
	flags := &mergeFlags{}
	cmd := &cobra.Command{
		Use:   "merge --change <name> [--dry-run] [--atomic]",
		Short: "Merge a change's specs into the canonical specs",
		Long: `Merge folds every document under changes/<name>/specs into the canonical
spec tree. 'kind: new' documents replace their canonical file; 'kind: delta'
documents are applied as REMOVED, MODIFIED, then ADDED patches.

A JSON summary is printed to standard output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opts, flags, "specmerge merge")
		},
	}
	flags.register(cmd)
	return cmd
}

// NewMergeChangeSpecsCmd creates the standalone merge-change-specs command.
func NewMergeChangeSpecsCmd() *cobra.Command {
	opts := &Options{}
	flags := &mergeFlags{}
	cmd := &cobra.Command{
		Use:           "merge-change-specs --change <name> [--dry-run]",
		Short:         "Merge a change's specs into the canonical specs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opts, flags, "merge-change-specs")
		},
	}
	opts.AddFlags(cmd)
	flags.register(cmd)
	return cmd
}

func runMerge(cmd *cobra.Command, opts *Options, flags *mergeFlags, example string) error {
	if flags.change == "" {
		return missingChange(example)
	}

	app, err := opts.Start(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx := cmd.Context()
	runID := uuid.New().String()
	logger := app.Logger().With("run_id", runID, "change", flags.change)

	merger := merge.NewMerger(app.Layout(), app.Store(),
		merge.WithLogger(logger),
		merge.WithMetrics(app.Metrics()),
		merge.WithAtomic(flags.atomic))

	started := time.Now()
	summary, runErr := merger.Run(ctx, flags.change, flags.dryRun)
	app.RecordRun(ctx, runRecord(runID, flags, summary, runErr, started))

	if runErr != nil {
		return runErr
	}

	data, err := summary.JSON()
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return err
	}

	if !flags.dryRun {
		app.PublishMerge(ctx, runID, summary)
	}
	return nil
}

func runRecord(runID string, flags *mergeFlags, summary *merge.Summary, runErr error, started time.Time) *storage.RunRecord {
	rec := &storage.RunRecord{
		ID:         runID,
		Change:     flags.change,
		DryRun:     flags.dryRun,
		Result:     storage.RunResultOK,
		Created:    []string{},
		Modified:   []string{},
		Skipped:    []string{},
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if summary != nil {
		rec.Created = summary.Created
		rec.Modified = summary.Modified
		rec.Skipped = summary.Skipped
	}
	if runErr != nil {
		rec.Result = storage.RunResultFailed
		rec.Error = runErr.Error()
	}
	return rec
}
