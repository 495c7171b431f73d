package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes content to name inside dir and returns the path.
func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_NoFile verifies defaults are used when no file exists
func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "harvest.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
}

// TestLoad_ValidConfig verifies file values replace defaults and unset
// fields keep them
func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "harvest.yaml", `
output_path: /data/interview_data.json
max_pages: 3
login_wait: 45s
browser:
  engine: static
pager:
  confirm_timeout: 2s
record:
  tags: ["Go", "社招"]
schedule:
  off_peak_interval: 2d
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/interview_data.json", cfg.OutputPath)
	assert.Equal(t, 3, cfg.MaxPages)
	assert.Equal(t, 45*time.Second, cfg.LoginWait.Std())
	assert.Equal(t, EngineStatic, cfg.Browser.Engine)
	assert.Equal(t, 2*time.Second, cfg.Pager.ConfirmTimeout.Std())
	assert.Equal(t, []string{"Go", "社招"}, cfg.Record.Tags)
	assert.Equal(t, 48*time.Hour, cfg.Schedule.OffPeakInterval.Std())

	// Untouched fields fall back to defaults
	assert.Equal(t, 200, cfg.TargetCount)
	assert.Equal(t, 3, cfg.Pager.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Pager.ConfirmInterval.Std())
	assert.Equal(t, Default().Detail.Regions, cfg.Detail.Regions)
}

// TestLoad_LocalOverlay verifies harvest.local.yaml wins over harvest.yaml
func TestLoad_LocalOverlay(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "harvest.yaml", `
max_pages: 4
browser:
  user_data_dir: /shared/profile
logging:
  level: warn
`)
	writeConfig(t, dir, "harvest.local.yaml", `
max_pages: 2
browser:
  headless: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxPages)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "/shared/profile", cfg.Browser.UserDataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

// TestLoad_ZeroValues verifies files can set fields to their zero values
// and the local overlay can turn a base setting off
func TestLoad_ZeroValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "harvest.yaml", `
login_wait: 0s
browser:
  headless: true
scan:
  fallback_pattern: ""
pager:
  settle: 0s
detail:
  title_suffix: ""
record:
  tags: []
`)
	writeConfig(t, dir, "harvest.local.yaml", `
browser:
  headless: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.LoginWait)
	assert.False(t, cfg.Browser.Headless)
	assert.Empty(t, cfg.Scan.FallbackPattern)
	assert.Zero(t, cfg.Pager.Settle)
	assert.Empty(t, cfg.Detail.TitleSuffix)
	assert.Empty(t, cfg.Record.Tags)

	// Keys absent from both files keep their defaults
	assert.Equal(t, Default().Scan.PrimaryPattern, cfg.Scan.PrimaryPattern)
	assert.Equal(t, Default().Pager.RetryDelay, cfg.Pager.RetryDelay)
}

// TestLoad_Env verifies environment variables override files
func TestLoad_Env(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "harvest.yaml", "output_path: from-file.json\n")

	t.Setenv("HARVEST_OUTPUT", "from-env.json")
	t.Setenv("HARVEST_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.json", cfg.OutputPath)
	assert.Equal(t, "error", cfg.Logging.Level)
}

// TestLoad_InvalidYAML verifies parse errors are reported
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "harvest.yaml", "max_pages: [unclosed\n")

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// TestLoad_InvalidDuration verifies bad durations are rejected
func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "harvest.yaml", "login_wait: soon\n")

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

// TestLoad_InvalidEngine verifies validation runs after loading
func TestLoad_InvalidEngine(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "harvest.yaml", "browser:\n  engine: firefox\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidEngine)
}

// TestValidate verifies each rule returns its sentinel
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing search url", func(c *Config) { c.SearchURL = "" }, ErrMissingSearchURL},
		{"missing output", func(c *Config) { c.OutputPath = "" }, ErrMissingOutputPath},
		{"zero pages", func(c *Config) { c.MaxPages = 0 }, ErrInvalidMaxPages},
		{"zero target", func(c *Config) { c.TargetCount = 0 }, ErrInvalidTargetCount},
		{"engine", func(c *Config) { c.Browser.Engine = "lynx" }, ErrInvalidEngine},
		{"pager attempts", func(c *Config) { c.Pager.MaxAttempts = 0 }, ErrInvalidAttempts},
		{"no regions", func(c *Config) { c.Detail.Regions = nil }, ErrEmptySelectors},
		{"on corrupt", func(c *Config) { c.Corpus.OnCorrupt = "ignore" }, ErrInvalidOnCorrupt},
		{"peak month", func(c *Config) { c.Schedule.PeakMonths = []int{13} }, ErrInvalidPeakMonth},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, ErrInvalidLogLevel},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

// TestParseDuration verifies day and week suffixes
func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"800ms", 800 * time.Millisecond},
		{"1h30m", 90 * time.Minute},
		{"3d", 72 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDuration("xd")
	assert.Error(t, err)
}

// TestLocalPath verifies the overlay name
func TestLocalPath(t *testing.T) {
	assert.Equal(t, "/etc/harvest.local.yaml", LocalPath("/etc/harvest.yaml"))
	assert.Equal(t, "conf.local", LocalPath("conf"))
}
