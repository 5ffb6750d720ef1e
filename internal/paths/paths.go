// Package paths resolves configuration, data and store directory locations.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "rigor"

// CWD-relative directory names.
const (
	DefaultConfigDirName = ".rigor"
	DefaultDataDirName   = ".rigor-runs"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "RIGOR_CONFIG_DIR"
	EnvDataDir   = "RIGOR_DATA_DIR"
)

// ErrInvalidStoreName is returned by StorePath for names that would escape
// the data directory.
var ErrInvalidStoreName = errors.New("invalid store name")

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/rigor (fallback ~/.config/rigor)
// macOS:   ~/Library/Application Support/rigor
// Windows: %APPDATA%/rigor
func DefaultConfigDir() (string, error) {
	return platformAppDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/rigor (fallback ~/.local/share/rigor)
// macOS:   ~/Library/Application Support/rigor
// Windows: %APPDATA%/rigor
func DefaultDataDir() (string, error) {
	return platformAppDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformAppDir(xdgVar, homeRel string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, appName), nil
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > RIGOR_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > configYAMLValue > RIGOR_DATA_DIR env > $(CWD)/.rigor-runs.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	for _, candidate := range []string{flag, configYAMLValue, os.Getenv(EnvDataDir)} {
		if candidate != "" {
			return filepath.Abs(candidate)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// StorePath returns the directory of the named store. A plain name resolves
// under dataDir; a name containing a path separator is taken as a path of
// its own, relative to the working directory.
func StorePath(dataDir, name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	case strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator):
		return filepath.Abs(name)
	}
	return filepath.Join(dataDir, name), nil
}
