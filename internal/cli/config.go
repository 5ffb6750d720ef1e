// Config loading for the rigor CLI.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/rigor/internal/paths"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	cfgKeyDataDir  = "data_dir"
	cfgKeyCompress = "compress"

	envCompress = "RIGOR_COMPRESS"
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	DataDir  string `yaml:"data_dir,omitempty"`
	Compress bool   `yaml:"compress"`
}

// settings are the resolved directories and store options for one command.
type settings struct {
	configDir string
	dataDir   string
	compress  bool
}

// loadConfig reads config.yaml from configDir using Viper. A missing
// config.yaml is not an error. RIGOR_COMPRESS overrides the compress key.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyCompress, false)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.BindEnv(cfgKeyCompress, envCompress); err != nil {
		return nil, fmt.Errorf("bind %s: %w", envCompress, err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// resolveSettings applies the directory precedence chain to the global flags
// and config.yaml.
func resolveSettings() (settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return settings{}, fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return settings{}, err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return settings{}, fmt.Errorf("resolve data dir: %w", err)
	}
	return settings{
		configDir: configDir,
		dataDir:   dataDir,
		compress:  v.GetBool(cfgKeyCompress),
	}, nil
}

// writeConfigIfMissing creates config.yaml with cfg if the file does not
// exist. An existing file is left alone.
func writeConfigIfMissing(path string, cfg configFile) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(path, data, 0o644)
}
