package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetUserConfigDir returns ~/.crmlive.
func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".crmlive"), nil
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() (string, error) {
	return defaultFile("config.yaml")
}

func defaultFile(name string) (string, error) {
	dir, err := GetUserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// EnsureConfigDir creates the directory holding path.
func EnsureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0700)
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
