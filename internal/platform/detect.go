package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "voxserve"

// DefaultModelDirFor returns the per-user directory for downloaded whisper models.
func DefaultModelDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

// ResolveModelDir returns override when set, otherwise the platform default.
func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func defaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux", "freebsd":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appDirName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appDirName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appDirName), nil
	case "windows":
		return filepath.Join(homeDir, "AppData", "Local", appDirName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}
