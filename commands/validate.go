package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/specmerge/workflow/validation"
)

// Path argument errors.
var (
	ErrAbsolutePath  = errors.New("Refusing absolute path; pass a repo-relative path.")
	ErrPathTraversal = errors.New("Refusing path traversal; '..' is not allowed.")
)

// CheckRelativePath rejects absolute paths and paths containing "..".
func CheckRelativePath(rel string) error {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return ErrAbsolutePath
	}
	if strings.Contains(rel, "..") {
		return ErrPathTraversal
	}
	return nil
}

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd(opts *Options) *cobra.Command {
	var change string
	cmd := &cobra.Command{
		Use:   "validate [<repo-relative-path> | --change <name>]",
		Short: "Validate change-spec documents",
		Long: `Validate checks change-spec documents against the 'new' and 'delta'
grammars. Pass one repo-relative path, or --change to validate every
document of a change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case change != "" && len(args) > 0:
				return fmt.Errorf("pass either a path or --change, not both")
			case change != "":
				return runValidateChange(cmd, opts, change)
			case len(args) == 1:
				return runValidatePath(cmd, opts, args[0])
			default:
				return fmt.Errorf("Usage: specmerge validate <repo-relative-path>")
			}
		},
	}
	cmd.Flags().StringVarP(&change, "change", "c", "", "Validate every document of this change")
	return cmd
}

// NewValidateChangeSpecCmd creates the standalone validate-change-spec command.
func NewValidateChangeSpecCmd() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:           "validate-change-spec <repo-relative-path>",
		Short:         "Validate one change-spec document",
		Example:       "  validate-change-spec changes/auth-refresh/specs/auth/login.md",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
				return ErrReported
			}
			return runValidatePath(cmd, opts, args[0])
		},
	}
	opts.AddFlags(cmd)
	return cmd
}

func runValidatePath(cmd *cobra.Command, opts *Options, rel string) error {
	if err := CheckRelativePath(rel); err != nil {
		return err
	}

	app, err := opts.Start(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	rel = filepath.ToSlash(rel)
	data, err := app.Store().Read(cmd.Context(), rel)
	if err != nil {
		return err
	}

	result := validation.ValidateChangeSpec(string(data))
	app.Metrics().Validation(result.OK)
	if !result.OK {
		fmt.Fprintln(cmd.ErrOrStderr(), validation.FormatIssues(rel, result.Issues))
		return ErrReported
	}

	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

func runValidateChange(cmd *cobra.Command, opts *Options, change string) error {
	app, err := opts.Start(cmd)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	rels, err := app.Layout().ListChangeSpecs(change)
	if err != nil {
		return err
	}

	store := app.Store()
	failed := 0
	for _, rel := range rels {
		data, err := store.Read(cmd.Context(), rel)
		if err != nil {
			return err
		}

		result := validation.ValidateChangeSpec(string(data))
		app.Metrics().Validation(result.OK)
		if !printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), rel, result) {
			failed++
		}
	}

	if failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d change specs failed validation\n", failed, len(rels))
		return ErrReported
	}
	return nil
}

// printResult writes "OK <path>" to out or the issue list to errOut, and
// reports whether the document was valid.
func printResult(out, errOut io.Writer, rel string, result *validation.Result) bool {
	if result.OK {
		fmt.Fprintf(out, "OK %s\n", rel)
		return true
	}
	fmt.Fprintln(errOut, validation.FormatIssues(rel, result.Issues))
	return false
}
