// Package paths resolves the on-disk locations used by updatecheck.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnvVar overrides the configuration directory.
const ConfigDirEnvVar = "UPDATECHECK_CONFIG_DIR"

// globalConfigDirName is the config directory relative to the user's home.
const globalConfigDirName = ".config/updatecheck"

// File names inside the config directory.
const (
	SettingsFileName      = "settings.json"
	SettingsLocalFileName = "settings.local.json"
	CacheFileName         = "version_cache.json"
	CacheDBFileName       = "version_cache.db"
	LogsDirName           = "logs"
	LogFileName           = "updatecheck.log"
)

// ConfigDir returns the configuration directory: $UPDATECHECK_CONFIG_DIR when
// set, otherwise ~/.config/updatecheck.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnvVar); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, globalConfigDirName), nil
}

// InConfigDir joins name onto the configuration directory.
func InConfigDir(name ...string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, name...)...), nil
}

// CacheFile returns the default JSON cache path.
func CacheFile() (string, error) {
	return InConfigDir(CacheFileName)
}

// CacheDB returns the default SQLite cache path.
func CacheDB() (string, error) {
	return InConfigDir(CacheDBFileName)
}

// LogsDir returns the directory log files are written to.
func LogsDir() (string, error) {
	return InConfigDir(LogsDirName)
}
