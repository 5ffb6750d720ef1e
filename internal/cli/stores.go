package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/rigor/internal/store"
)

// maxSummaryReaders bounds concurrent metadata reads.
const maxSummaryReaders = 8

func newStoresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the stores in the data directory",
		Args:  cobra.NoArgs,
		RunE:  runStores,
	}
}

func runStores(cmd *cobra.Command, args []string) error {
	set, err := resolveSettings()
	if err != nil {
		return sysError(err)
	}
	dirs, err := storeDirs(set.dataDir)
	if err != nil {
		return sysError(err)
	}

	summaries := make([]store.Summary, len(dirs))
	var g errgroup.Group
	g.SetLimit(maxSummaryReaders)
	for i, dir := range dirs {
		g.Go(func() error {
			sum, err := store.ReadSummary(dir)
			if err != nil {
				return fmt.Errorf("store %s: %w", filepath.Base(dir), err)
			}
			summaries[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sysError(err)
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		return writeJSON(out, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintf(out, "no stores in %s\n", set.dataDir)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tEXPERIMENT\tERRORS\tFAILED\tRECORDS\tSAVED")
	for _, sum := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%d\t%s\n", sum.Name,
			sum.State.ExperimentNumber, sum.State.ErrorNumber, sum.State.HadError,
			sum.RecordCount, sum.SavedAt)
	}
	return tw.Flush()
}

// storeDirs returns the store directories directly under dataDir in name
// order. A missing data directory holds no stores.
func storeDirs(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(dataDir, e.Name())
		if store.IsStoreDir(dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
