package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - HISTSYNC_CONFIG_PATH: config file location (default: ~/.config/histsync.toml)
//   - HISTSYNC_HOME: base directory for histsync data (default: ~/.local/share/histsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"cache_dir":   filepath.Join(baseDir, "cache"),
	}, nil
}

// getConfigPath returns the config file path, checking HISTSYNC_CONFIG_PATH env var first,
// then falling back to the default ~/.config/histsync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("HISTSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "histsync.toml"), nil
}

// getBaseDir returns the base directory for histsync data, checking HISTSYNC_HOME env var first,
// then falling back to the XDG default ~/.local/share/histsync.
func getBaseDir() (string, error) {
	if path := os.Getenv("HISTSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "histsync"), nil
}
