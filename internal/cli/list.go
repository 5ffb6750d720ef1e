package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/pkg/types"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <store> [key=value...]",
		Short: "List records matching every key=value filter",
		Long: "List the records of a store. Each key=value argument must hold for a record\n" +
			"to be listed. Values are read as JSON when they parse as JSON, so epoch=3\n" +
			"matches the number 3 and model=m1 the string \"m1\". A JSON array such as\n" +
			"model='[\"m1\",\"m2\"]' matches any of its elements.",
		Args: cobra.MinimumNArgs(1),
		RunE: runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(args[1:])
	if err != nil {
		return userError(err)
	}
	s, err := openStore(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.Fetch(filter)
	if errors.Is(err, types.ErrInvalidFilter) {
		return userError(err)
	}
	if err != nil {
		return sysError(fmt.Errorf("fetch records: %w", err))
	}
	return printRecords(cmd.OutOrStdout(), recs)
}

func newExperimentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "experiment <store> <n>",
		Short: "List the records of one experiment",
		Long: "List the records of experiment n. A negative n counts back from the most\n" +
			"recent experiment; pass it after -- so it is not read as a flag:\n\n" +
			"  rigor experiment demo -- -1",
		Args: cobra.ExactArgs(2),
		RunE: runExperiment,
	}
}

func runExperiment(cmd *cobra.Command, args []string) error {
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return userError(fmt.Errorf("invalid experiment number %q", args[1]))
	}
	s, err := openStore(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.Experiment(n)
	if errors.Is(err, types.ErrExperimentNotFound) {
		return userError(err)
	}
	if err != nil {
		return sysError(fmt.Errorf("fetch experiment: %w", err))
	}
	return printRecords(cmd.OutOrStdout(), recs)
}
