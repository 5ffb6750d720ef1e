// Shared helpers for rigor CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/internal/paths"
	"github.com/mesh-intelligence/rigor/internal/store"
	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// newLogger returns the logger handed to stores. Store activity is shown
// only with --verbose; warnings always are.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore resolves name against the data directory and opens the store.
// With mustExist, a directory without an identity marker is a user error
// instead of a new store.
func openStore(cmd *cobra.Command, name string, mustExist bool) (*store.Store, error) {
	set, err := resolveSettings()
	if err != nil {
		return nil, sysError(err)
	}
	dir, err := paths.StorePath(set.dataDir, name)
	if err != nil {
		return nil, userError(err)
	}
	if mustExist && !store.IsStoreDir(dir) {
		return nil, userError(fmt.Errorf("store %q not found in %s", name, set.dataDir))
	}

	s, err := store.Open(types.Config{DataDir: dir, Compress: set.compress},
		store.WithLogger(newLogger(cmd.ErrOrStderr())))
	if err != nil {
		return nil, sysError(fmt.Errorf("open store: %w", err))
	}
	return s, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFilter parses key=value arguments into a store filter. Values that
// parse as JSON are used as such, anything else is a plain string. A JSON
// array asks for membership.
func parseFilter(args []string) (map[string]any, error) {
	filter := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", arg)
		}
		filter[key] = parseValue(raw)
	}
	return filter, nil
}

func parseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return lineage.Normalize(v)
}

// printRecords writes recs as JSON lines in --json mode and as one line of
// sorted key=value pairs per record otherwise.
func printRecords(w io.Writer, recs []*lineage.Record) error {
	if flags.jsonMode {
		return store.WriteRecords(w, recs)
	}
	for _, rec := range recs {
		flat := rec.Flatten()
		pairs := make([]string, 0, len(flat))
		for _, k := range slices.Sorted(maps.Keys(flat)) {
			pairs = append(pairs, k+"="+formatValue(flat[k]))
		}
		if _, err := fmt.Fprintln(w, strings.Join(pairs, " ")); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
