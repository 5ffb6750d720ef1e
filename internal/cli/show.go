package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/pkg/types"
)

// storeReport is the output of the show command.
type storeReport struct {
	Name        string         `json:"name"`
	ID          string         `json:"store_id"`
	Dir         string         `json:"dir"`
	State       types.RunState `json:"state"`
	RecordCount int            `json:"record_count"`
	Experiments []int64        `json:"experiments"`
	Collection  map[string]any `json:"collection"`
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <store>",
		Short: "Display a store's identity, counters and experiments",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.Len()
	if err != nil {
		return sysError(fmt.Errorf("read records: %w", err))
	}
	nums, err := s.ExperimentNumbers()
	if err != nil {
		return sysError(fmt.Errorf("read experiments: %w", err))
	}
	if nums == nil {
		nums = []int64{}
	}
	rep := storeReport{
		Name:        s.Name(),
		ID:          s.ID(),
		Dir:         s.Dir(),
		State:       s.State(),
		RecordCount: n,
		Experiments: nums,
		Collection:  s.Collection().Attrs(),
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		return writeJSON(out, rep)
	}
	fmt.Fprintf(out, "Store:       %s\n", rep.Name)
	fmt.Fprintf(out, "ID:          %s\n", rep.ID)
	fmt.Fprintf(out, "Dir:         %s\n", rep.Dir)
	fmt.Fprintf(out, "Experiment:  %d\n", rep.State.ExperimentNumber)
	fmt.Fprintf(out, "Errors:      %d\n", rep.State.ErrorNumber)
	fmt.Fprintf(out, "Had error:   %t\n", rep.State.HadError)
	fmt.Fprintf(out, "Records:     %d\n", rep.RecordCount)

	ids := make([]string, len(nums))
	for i, num := range nums {
		ids[i] = fmt.Sprint(num)
	}
	fmt.Fprintf(out, "Experiments: %s\n", strings.Join(ids, ", "))

	if len(rep.Collection) > 0 {
		fmt.Fprintln(out, "\nCollection:")
		for _, k := range s.Collection().Layer().Keys() {
			fmt.Fprintf(out, "  %s: %s\n", k, formatValue(rep.Collection[k]))
		}
	}
	return nil
}
