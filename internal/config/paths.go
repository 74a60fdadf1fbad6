package config

import (
	"os"
	"path/filepath"
)

// PavilionPath returns the root directory for Pavilion data.
// It uses $PAVILION_PATH if set, otherwise defaults to ~/.pavilion.
func PavilionPath() string {
	if v := os.Getenv("PAVILION_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".pavilion")
	}
	return filepath.Join(home, ".pavilion")
}

// ConfigPath returns the path to the Pavilion config file.
func ConfigPath() string {
	return filepath.Join(PavilionPath(), "config.jsonc")
}

// DotenvPath returns the path to the Pavilion .env file.
func DotenvPath() string {
	return filepath.Join(PavilionPath(), ".env")
}
