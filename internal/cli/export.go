package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <store>",
		Short: "Write every record, flattened, as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args[0], out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, name, out string) error {
	s, err := openStore(cmd, name, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if out == "" {
		if err := s.Export(cmd.OutOrStdout()); err != nil {
			return sysError(fmt.Errorf("export: %w", err))
		}
		return nil
	}

	f, err := os.Create(out)
	if err != nil {
		return sysError(fmt.Errorf("create %s: %w", out, err))
	}
	if err := s.Export(f); err != nil {
		f.Close()
		return sysError(fmt.Errorf("export: %w", err))
	}
	if err := f.Close(); err != nil {
		return sysError(fmt.Errorf("close %s: %w", out, err))
	}
	n, err := s.Len()
	if err != nil {
		return sysError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", n, out)
	return nil
}
