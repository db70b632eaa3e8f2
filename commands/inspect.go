package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/specmerge/source/parser"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewTopicsCmd creates the topics subcommand.
func NewTopicsCmd(opts *Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "topics <canonical-path>",
		Short: "List the requirement topics of a canonical spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := args[0]
			if err := CheckRelativePath(rel); err != nil {
				return err
			}

			app, err := opts.Start(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			data, err := app.Store().Read(cmd.Context(), filepath.ToSlash(rel))
			if err != nil {
				return err
			}

			topics := parser.Outline(data)
			if asJSON {
				if topics == nil {
					topics = []parser.OutlineTopic{}
				}
				return writeJSON(cmd.OutOrStdout(), topics)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LINE\tTOPIC\tBULLETS")
			for _, t := range topics {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", t.Line, t.Name, t.Bullets)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// NewChangesCmd creates the changes subcommand.
func NewChangesCmd(opts *Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List changes that carry change specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.Start(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			changes, err := app.Layout().ListChanges()
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), changes)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHANGE\tSPECS")
			for _, c := range changes {
				fmt.Fprintf(tw, "%s\t%d\n", c.Name, c.Specs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// NewHistoryCmd creates the history subcommand.
func NewHistoryCmd(opts *Options) *cobra.Command {
	var (
		change string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [--change <name>]",
		Short: "Show recorded merge runs",
		Long: `History lists merge runs recorded in the NATS KV bucket named by
nats.history_bucket, newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.Start(cmd)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			runs := app.Runs()
			if runs == nil {
				return fmt.Errorf("run history is disabled; set nats.history_bucket")
			}

			records, err := runs.List(cmd.Context(), change)
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			if asJSON {
				if records == nil {
					return writeJSON(cmd.OutOrStdout(), []any{})
				}
				return writeJSON(cmd.OutOrStdout(), records)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tRUN\tCHANGE\tRESULT\tCREATED\tMODIFIED\tDRY RUN")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%t\n",
					r.StartedAt.Format(time.RFC3339), r.ID, r.Change, r.Result,
					len(r.Created), len(r.Modified), r.DryRun)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&change, "change", "c", "", "Only show runs of this change")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
