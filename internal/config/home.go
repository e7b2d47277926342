package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the per-project state directory holding config.yaml, logs and memory.
const DirName = ".kaizen"

// ConfigFile is the config file name inside the kaizen home.
const ConfigFile = "config.yaml"

// HomeEnv overrides the state directory.
const HomeEnv = "KAIZEN_HOME"

// GetKaizenHome returns the kaizen state directory.
// Priority order:
//  1. KAIZEN_HOME environment variable (if set)
//  2. .kaizen under the nearest ancestor of dir that already has one
//  3. .kaizen under dir (fallback)
//
// The directory is created if it doesn't exist
func GetKaizenHome(dir string) (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create kaizen home directory: %w", err)
		}
		return home, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}

	home := filepath.Join(abs, DirName)
	if found, ok := findProjectRoot(abs); ok {
		home = filepath.Join(found, DirName)
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create kaizen home directory: %w", err)
	}
	return home, nil
}

// findProjectRoot walks up from dir to the first directory containing .kaizen.
func findProjectRoot(dir string) (string, bool) {
	current := dir
	for {
		if info, err := os.Stat(filepath.Join(current, DirName)); err == nil && info.IsDir() {
			return current, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// ResolvePath resolves a configured path against home. Absolute paths are
// returned unchanged and an empty path is home itself.
func ResolvePath(home, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}
