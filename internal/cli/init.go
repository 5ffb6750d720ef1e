package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/rigor/pkg/types"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize rigor configuration and data directories",
		Long:  "Create the configuration directory with a default config.yaml, then create the data directory.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	set, err := resolveSettings()
	if err != nil {
		return sysError(err)
	}
	if err := (types.Config{DataDir: set.dataDir}).Validate(); err != nil {
		return userError(err)
	}

	if err := os.MkdirAll(set.configDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create config directory: %w", err))
	}
	configPath := filepath.Join(set.configDir, configFileExt)
	created, err := writeConfigIfMissing(configPath, configFile{DataDir: set.dataDir, Compress: set.compress})
	if err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}
	if err := os.MkdirAll(set.dataDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create data directory: %w", err))
	}

	if flags.jsonMode {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"config":         configPath,
			"config_created": created,
			"data_dir":       set.dataDir,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "rigor initialized")
	fmt.Fprintf(cmd.OutOrStdout(), "config: %s\ndata:   %s\n", configPath, set.dataDir)
	return nil
}
