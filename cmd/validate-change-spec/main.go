// Package main provides validate-change-spec, which checks one change-spec
// document and prints OK or its issues.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/c360studio/specmerge/commands"
)

func main() {
	if err := commands.NewValidateChangeSpecCmd().Execute(); err != nil {
		if !errors.Is(err, commands.ErrReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
