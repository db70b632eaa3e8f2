// Package main provides merge-change-specs, which folds the change specs of
// one change into the canonical spec tree and prints a JSON summary.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360studio/specmerge/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := commands.NewMergeChangeSpecsCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		if !errors.Is(err, commands.ErrReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
