package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "meshkeeper"

// GetConfigDir returns the platform-specific config directory.
// Unix: $XDG_CONFIG_HOME/meshkeeper or ~/.config/meshkeeper
// Windows: %APPDATA%\meshkeeper
func GetConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appName), nil
}

// GetDataDir returns the platform-specific data directory.
// Unix: $XDG_DATA_HOME/meshkeeper or ~/.local/share/meshkeeper
func GetDataDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	default:
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, appName), nil
}

// EnsureDirs creates the config directory and cfg's data directories.
func EnsureDirs(cfg *Config) error {
	cfgDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{cfgDir, cfg.Storage.DataDir, cfg.DatabaseDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
