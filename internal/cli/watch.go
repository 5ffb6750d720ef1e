package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/internal/store"
)

func newWatchCmd() *cobra.Command {
	var maxUpdates int
	cmd := &cobra.Command{
		Use:   "watch <store>",
		Short: "Print a store's record count each time it is saved",
		Long: "Watch a store directory and reload the store whenever another process\n" +
			"saves it. Runs until interrupted, or until --max-updates saves were seen.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], maxUpdates)
		},
	}
	cmd.Flags().IntVar(&maxUpdates, "max-updates", 0, "stop after this many saves (0: never)")
	return cmd
}

func runWatch(cmd *cobra.Command, name string, maxUpdates int) error {
	s, err := openStore(cmd, name, true)
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return sysError(fmt.Errorf("create watcher: %w", err))
	}
	defer w.Close()
	if err := w.Add(s.Dir()); err != nil {
		return sysError(fmt.Errorf("watch %s: %w", s.Dir(), err))
	}

	out := cmd.OutOrStdout()
	if isTerminal(out) {
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (Ctrl-C to stop)\n", s.Dir())
	}
	if err := reportStore(out, s); err != nil {
		return sysError(err)
	}

	metadata := filepath.Clean(store.MetadataPath(s.Dir()))
	ctx := cmd.Context()
	updates := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != metadata || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			if err := s.Reload(); err != nil {
				return sysError(fmt.Errorf("reload: %w", err))
			}
			if err := reportStore(out, s); err != nil {
				return sysError(err)
			}
			updates++
			if maxUpdates > 0 && updates >= maxUpdates {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return sysError(fmt.Errorf("watch: %w", err))
		}
	}
}

func reportStore(w io.Writer, s *store.Store) error {
	n, err := s.Len()
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	state := s.State()
	if flags.jsonMode {
		return writeJSON(w, map[string]any{
			"store":        s.Name(),
			"state":        state,
			"record_count": n,
		})
	}
	_, err = fmt.Fprintf(w, "%s: %d records, experiment %d, error number %d\n",
		s.Name(), n, state.ExperimentNumber, state.ErrorNumber)
	return err
}
