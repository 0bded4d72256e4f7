package mock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/wssampler/internal/config"
	"github.com/studiowebux/wssampler/internal/matcher"
)

// LoadConfig loads a mock configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
	case ".json", ".jsonc":
		// JSON goes through the YAML decoder so delays read as "250ms"
		data = jsonc.ToJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, .json or .jsonc)", ext)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate config
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validateConfig validates the mock configuration
func validateConfig(cfg *Config) error {
	if len(cfg.Rules) == 0 && !cfg.Echo && cfg.Greeting == "" {
		return fmt.Errorf("no rules defined (set rules, echo or greeting)")
	}
	if cfg.Path != "" && !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("path must start with /")
	}

	for i, rule := range cfg.Rules {
		if rule.Match == "" {
			return fmt.Errorf("rule %d: match is required", i)
		}
		switch rule.MatchType {
		case "", MatchExact, MatchContains:
		case MatchRegex:
			if _, err := matcher.Compile(rule.Match); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		default:
			return fmt.Errorf("rule %d: matchType must be 'exact', 'contains', or 'regex'", i)
		}
		if rule.CloseCode != 0 && (rule.CloseCode < 1000 || rule.CloseCode > 4999) {
			return fmt.Errorf("rule %d: closeCode must be between 1000 and 4999", i)
		}
		if rule.Delay < 0 {
			return fmt.Errorf("rule %d: delay cannot be negative", i)
		}
	}

	return nil
}

// SaveConfig saves a mock configuration as YAML, the format that keeps
// delays readable ("250ms")
func SaveConfig(cfg *Config, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file format: %s (use .yaml or .yml)", ext)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(path, data, config.FilePermissions); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
