package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppConfigDir = ".config/tusker"
)

// GetConfigDir returns the tusker config directory path (~/.config/tusker/)
// and creates it if it doesn't exist
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// ResolveFilePath resolves a file path with the following priority:
// 1. Local working directory (e.g., ./database.db)
// 2. User config directory (e.g., ~/.config/tusker/database.db)
// 3. Returns the user config directory path if neither exists (for creation)
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return filename
	}

	userPath := filepath.Join(configDir, filename)

	if _, err := os.Stat(userPath); err == nil {
		return userPath
	}

	return userPath
}
