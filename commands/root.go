package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set by the binaries.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// NewRootCmd creates the specmerge command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "specmerge",
		Short: "Validate and merge markdown change specs",
		Long: `Specmerge validates structured markdown change specs and folds them into
a canonical specification tree.

Change specs live under changes/<name>/specs and mirror the layout of the
canonical specs/ directory. Each document declares 'kind: new' or
'kind: delta' in its frontmatter.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd)

	cmd.AddCommand(
		NewMergeCmd(opts),
		NewValidateCmd(opts),
		NewWatchCmd(opts),
		NewTopicsCmd(opts),
		NewChangesCmd(opts),
		NewHistoryCmd(opts),
		NewConfigCmd(opts),
		NewVersionCmd("specmerge"),
	)
	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd(appName string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}
