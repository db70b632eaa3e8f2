package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/specmerge/watch"
	"github.com/c360studio/specmerge/workflow"
)

// NewWatchCmd creates the watch subcommand.
func NewWatchCmd(opts *Options) *cobra.Command {
	var change string
	cmd := &cobra.Command{
		Use:   "watch [--change <name>]",
		Short: "Revalidate change specs as they are edited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, change)
		},
	}
	cmd.Flags().StringVarP(&change, "change", "c", "", "Only report documents of this change")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *Options, change string) error {
	if change != "" {
		if err := workflow.CheckChangeName(change); err != nil {
			return err
		}
	}

	app, err := opts.Start(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	cfg := app.Config()
	w, err := watch.NewSpecWatcher(cfg.Repo.Path, cfg.Layout.ChangesDir,
		watch.WithDebounce(cfg.Watch.Debounce),
		watch.WithLogger(app.Logger()),
		watch.WithMetrics(app.Metrics()))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Stop()

	ctx := cmd.Context()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	prefix := ""
	if change != "" {
		prefix = app.Layout().ChangeSpecsRel(change) + "/"
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events():
			if !ok {
				return nil
			}
			if prefix != "" && !strings.HasPrefix(event.Path, prefix) {
				continue
			}
			if event.Operation == watch.OpDelete {
				app.Logger().Info("Change spec removed", "path", event.Path)
				continue
			}
			printResult(out, errOut, event.Path, event.Result)
		}
	}
}
