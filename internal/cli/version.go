package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/pkg/rigor"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rigor version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version": rigor.Version,
					"module":  rigor.ModulePath,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rigor v%s\nmodule: %s\n", rigor.Version, rigor.ModulePath)
			return nil
		},
	}
}
