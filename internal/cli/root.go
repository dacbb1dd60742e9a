// Package cli implements the encore command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand(afero.NewOsFs()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. fs is where config, playlist and
// library paths are resolved.
func NewRootCommand(fs afero.Fs) *cobra.Command {
	root := &cobra.Command{
		Use:           "encore",
		Short:         "A persistent media player you drive over HTTP and MPRIS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newPlayCommand(fs),
		newVersionCommand(),
		newConfigCommand(),
	)
	return root
}
