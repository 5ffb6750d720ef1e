package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/pkg/record"
)

var errDemoFailure = errors.New("demo failure")

type demoOptions struct {
	tag       string
	steps     int
	failAfter int
}

func newDemoCmd() *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo <store>",
		Short: "Record a two-model training and testing run",
		Long: "Run a small example inside one run of the store: two models each record a\n" +
			"training loss and a testing accuracy per step. --fail-after makes the run\n" +
			"fail after that many records so the retry numbering can be seen.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.tag, "tag", "demo", "tag attribute of the run")
	cmd.Flags().IntVar(&opts.steps, "steps", 5, "steps per model and phase")
	cmd.Flags().IntVar(&opts.failAfter, "fail-after", 0, "fail the run after this many records (0: never)")
	return cmd
}

func runDemo(cmd *cobra.Command, name string, opts demoOptions) error {
	if opts.steps < 0 || opts.failAfter < 0 {
		return userError(errors.New("--steps and --fail-after must not be negative"))
	}
	s, err := openStore(cmd, name, false)
	if err != nil {
		return err
	}
	defer s.Close()

	runErr := s.Do(cmd.Context(), map[string]any{"tag": opts.tag}, demoBody(opts))
	state := s.State()
	n, err := s.Len()
	if err != nil {
		return sysError(err)
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		if err := writeJSON(out, map[string]any{
			"store":        s.Name(),
			"state":        state,
			"record_count": n,
			"failed":       runErr != nil,
		}); err != nil {
			return sysError(err)
		}
	} else {
		if runErr != nil {
			fmt.Fprintf(out, "experiment %d failed on attempt %d; partial data saved\n",
				state.ExperimentNumber, state.ErrorNumber)
		} else {
			fmt.Fprintf(out, "experiment %d finished\n", state.ExperimentNumber)
		}
		fmt.Fprintf(out, "%s holds %d records\n", s.Name(), n)
	}
	if runErr != nil {
		return userError(runErr)
	}
	return nil
}

// demoBody records training losses and then testing accuracies for two
// models. Model one stages and commits; model two pushes.
func demoBody(opts demoOptions) func(*record.Node) error {
	return func(root *record.Node) error {
		written := 0
		wrote := func() error {
			written++
			if opts.failAfter > 0 && written >= opts.failAfter {
				return fmt.Errorf("%w after %d records", errDemoFailure, written)
			}
			return nil
		}

		model1 := root.Derive(map[string]any{"model": "model1"})
		model2 := root.Derive(map[string]any{"model": "model2"})

		train1 := model1.Derive(map[string]any{"training": true})
		train2 := model2.Derive(map[string]any{"training": true})
		for i := range opts.steps {
			train1.Stage(map[string]any{"index": i})
			train1.Stage(map[string]any{"loss": demoLoss(1, i)})
			train1.Commit(nil)
			if err := wrote(); err != nil {
				return err
			}
			train2.Push(map[string]any{"index": i, "loss": demoLoss(2, i)})
			if err := wrote(); err != nil {
				return err
			}
		}

		test1 := model1.Derive(map[string]any{"testing": true})
		test2 := model2.Derive(map[string]any{"testing": true})
		for i := range opts.steps {
			test1.Stage(map[string]any{"index": i})
			test1.Commit(map[string]any{"accuracy": demoAccuracy(1, i)})
			if err := wrote(); err != nil {
				return err
			}
			test2.Push(map[string]any{"index": i, "accuracy": demoAccuracy(2, i)})
			if err := wrote(); err != nil {
				return err
			}
		}
		return nil
	}
}

func demoLoss(model, step int) float64 {
	return float64(model) / float64(step+1)
}

func demoAccuracy(model, step int) float64 {
	return 1 - 0.5/float64(model*(step+1))
}
