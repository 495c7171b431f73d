package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML strings such as "800ms",
// "20s", "3d" or "1w".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration extends time.ParseDuration to support 'd' (days) and 'w'
// (weeks)
func ParseDuration(s string) (time.Duration, error) {
	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Handle days (d) and weeks (w)
	units := map[string]time.Duration{
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}
	for suffix, unit := range units {
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(s[:len(s)-len(suffix)], "%d", &n); err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * unit, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}

// LocalPath returns the overlay path for a config file: harvest.yaml becomes
// harvest.local.yaml in the same directory.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads the config file at path on top of Default, then the local
// overlay on top of that, applies environment overrides and validates the
// result. Only keys present in a file change a value, so a file can set a
// field back to its zero value. Missing files are not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	for _, p := range []string{path, LocalPath(path)} {
		if err := readFile(p, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readFile decodes one YAML file into cfg. A missing file leaves cfg as it
// is.
func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist -- not an error
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// applyEnv overrides selected fields from HARVEST_* variables.
func applyEnv(cfg *Config) {
	cfg.SearchURL = getEnv("HARVEST_SEARCH_URL", cfg.SearchURL)
	cfg.OutputPath = getEnv("HARVEST_OUTPUT", cfg.OutputPath)
	cfg.Browser.Engine = getEnv("HARVEST_BROWSER", cfg.Browser.Engine)
	cfg.Browser.UserDataDir = getEnv("HARVEST_USER_DATA_DIR", cfg.Browser.UserDataDir)
	cfg.History.DSN = getEnv("HARVEST_HISTORY_DSN", cfg.History.DSN)
	cfg.Schedule.StatePath = getEnv("HARVEST_STATE_PATH", cfg.Schedule.StatePath)
	cfg.Logging.Level = getEnv("HARVEST_LOG_LEVEL", cfg.Logging.Level)
}
