package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755

	// HomeEnv overrides the configuration directory
	HomeEnv = "WSSAMPLER_HOME"
)

// Timing and size defaults applied when a plan leaves them unset
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultResponseTimeout  = 20 * time.Second
	DefaultCloseGrace       = 1 * time.Second
	DefaultHandshakeTimeout = 45 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	// MaxMessageSize caps a single inbound frame (256 MiB)
	MaxMessageSize = 256 * 1024 * 1024
)

var (
	// ConfigDir is the global configuration directory (~/.wssampler)
	ConfigDir string

	// PlansDir is the default plans directory
	PlansDir string

	// DatabasePath is the SQLite database file for load runs
	DatabasePath string

	// VariablesFile holds variables persisted between runs
	VariablesFile string
)

// Initialize sets up the configuration directories and files
// It creates ~/.wssampler/ (or $WSSAMPLER_HOME) if it doesn't exist
func Initialize() error {
	dir, err := homeDir()
	if err != nil {
		return err
	}

	ConfigDir = dir
	PlansDir = filepath.Join(ConfigDir, "plans")
	DatabasePath = filepath.Join(ConfigDir, "wssampler.db")
	VariablesFile = filepath.Join(ConfigDir, ".variables.json")

	for _, d := range []string{ConfigDir, PlansDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	if _, err := os.Stat(VariablesFile); os.IsNotExist(err) {
		if err := os.WriteFile(VariablesFile, []byte(`{"variables":{}}`), FilePermissions); err != nil {
			return fmt.Errorf("failed to create variables file: %w", err)
		}
	}

	return nil
}

func homeDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return expandHome(dir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wssampler"), nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// ResolvePlanPath locates a plan file.
// Tried in order: the path as given, the path with a known extension, and
// the same two under PlansDir.
func ResolvePlanPath(name string) (string, error) {
	name, err := expandHome(name)
	if err != nil {
		return "", err
	}

	candidates := []string{name}
	if !filepath.IsAbs(name) && PlansDir != "" {
		candidates = append(candidates, filepath.Join(PlansDir, name))
	}

	for _, base := range candidates {
		if info, err := os.Stat(base); err == nil && !info.IsDir() {
			return base, nil
		}
		if filepath.Ext(base) != "" {
			continue
		}
		for _, ext := range PlanExtensions {
			if _, err := os.Stat(base + ext); err == nil {
				return base + ext, nil
			}
		}
	}

	return "", fmt.Errorf("plan not found: %s", name)
}

// PlanExtensions are the file extensions recognised as plans, in lookup order
var PlanExtensions = []string{".yaml", ".yml", ".json", ".jsonc"}
