// Package config loads the crawler configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pevans/harvest/logger"
)

// Custom errors for configuration validation
var (
	ErrMissingSearchURL   = errors.New("search_url is required")
	ErrMissingOutputPath  = errors.New("output_path is required")
	ErrInvalidMaxPages    = errors.New("max_pages must be at least 1")
	ErrInvalidTargetCount = errors.New("target_count must be at least 1")
	ErrInvalidEngine      = errors.New("browser.engine must be chrome or static")
	ErrInvalidOnCorrupt   = errors.New("corpus.on_corrupt must be abort or reset")
	ErrInvalidLogLevel    = errors.New("logging.level must be debug, info, warn or error")
	ErrInvalidLogFormat   = errors.New("logging.format must be text or json")
	ErrInvalidAttempts    = errors.New("attempt counts must be at least 1")
	ErrInvalidPeakMonth   = errors.New("schedule.peak_months entries must be between 1 and 12")
	ErrEmptySelectors     = errors.New("selector lists must not be empty")
)

// Browser engines
const (
	EngineChrome = "chrome"
	EngineStatic = "static"
)

// Config is the complete crawler configuration.
type Config struct {
	SearchURL   string   `yaml:"search_url"`
	OutputPath  string   `yaml:"output_path"`
	MaxPages    int      `yaml:"max_pages"`
	TargetCount int      `yaml:"target_count"`
	LoginWait   Duration `yaml:"login_wait"`

	// NavigateInterval is the minimum spacing between detail page loads.
	// Zero disables pacing.
	NavigateInterval Duration `yaml:"navigate_interval"`

	Browser  BrowserConfig  `yaml:"browser"`
	Scan     ScanConfig     `yaml:"scan"`
	Pager    PagerConfig    `yaml:"pager"`
	Detail   DetailConfig   `yaml:"detail"`
	Record   RecordConfig   `yaml:"record"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Schedule ScheduleConfig `yaml:"schedule"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BrowserConfig selects and configures the page driver.
type BrowserConfig struct {
	Engine       string   `yaml:"engine"`
	Headless     bool     `yaml:"headless"`
	ExecPath     string   `yaml:"exec_path"`
	UserDataDir  string   `yaml:"user_data_dir"`
	UserAgent    string   `yaml:"user_agent"`
	WindowWidth  int      `yaml:"window_width"`
	WindowHeight int      `yaml:"window_height"`
	ClickDelay   Duration `yaml:"click_delay"`
	HTTPTimeout  Duration `yaml:"http_timeout"`
}

// ScanConfig controls how each results page is read.
type ScanConfig struct {
	PopupCloseSelector string   `yaml:"popup_close_selector"`
	TopSettle          Duration `yaml:"top_settle"`
	BottomSettle       Duration `yaml:"bottom_settle"`
	PrimaryPattern     string   `yaml:"primary_pattern"`
	FallbackPattern    string   `yaml:"fallback_pattern"`
}

// PagerConfig controls page advancement.
type PagerConfig struct {
	Containers      []string `yaml:"containers"`
	NextLabels      []string `yaml:"next_labels"`
	MaxAttempts     int      `yaml:"max_attempts"`
	RetryDelay      Duration `yaml:"retry_delay"`
	ConfirmTimeout  Duration `yaml:"confirm_timeout"`
	ConfirmInterval Duration `yaml:"confirm_interval"`
	BaselineSize    int      `yaml:"baseline_size"`
	Settle          Duration `yaml:"settle"`
}

// DetailConfig controls detail page extraction.
type DetailConfig struct {
	LoadAttempts       int      `yaml:"load_attempts"`
	ReadyTimeout       Duration `yaml:"ready_timeout"`
	LoadRetryDelay     Duration `yaml:"load_retry_delay"`
	Settle             Duration `yaml:"settle"`
	TitleSuffix        string   `yaml:"title_suffix"`
	Regions            []string `yaml:"regions"`
	MinBlockLength     int      `yaml:"min_block_length"`
	MinParagraphLength int      `yaml:"min_paragraph_length"`
	MinContentLength   int      `yaml:"min_content_length"`
	DisableReadability bool     `yaml:"disable_readability"`
	Phrases            []string `yaml:"phrases"`
}

// RecordConfig controls how posts are built.
type RecordConfig struct {
	Tags          []string `yaml:"tags"`
	SummaryLength int      `yaml:"summary_length"`
}

// CorpusConfig controls the corpus file.
type CorpusConfig struct {
	OnCorrupt string `yaml:"on_corrupt"`
}

// ScheduleConfig controls cadence-gated runs.
type ScheduleConfig struct {
	StatePath       string   `yaml:"state_path"`
	PeakMonths      []int    `yaml:"peak_months"`
	OffPeakInterval Duration `yaml:"off_peak_interval"`
	CheckInterval   Duration `yaml:"check_interval"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SearchURL:   "https://www.nowcoder.com/search/all?query=java&type=all&searchType=%E9%A1%B6%E9%83%A8%E5%AF%BC%E8%88%AA%E6%A0%8F&subType=818",
		OutputPath:  "app/src/main/assets/interview_data.json",
		MaxPages:    10,
		TargetCount: 200,
		LoginWait:   Duration(20 * time.Second),
		Browser: BrowserConfig{
			Engine:       EngineChrome,
			WindowWidth:  1366,
			WindowHeight: 900,
			ClickDelay:   Duration(200 * time.Millisecond),
			HTTPTimeout:  Duration(10 * time.Second),
		},
		Scan: ScanConfig{
			PopupCloseSelector: ".icon-close, .close-btn, [class*='close']",
			TopSettle:          Duration(800 * time.Millisecond),
			BottomSettle:       Duration(2 * time.Second),
			PrimaryPattern:     "/feed/main/detail",
			FallbackPattern:    "/discuss/",
		},
		Pager: PagerConfig{
			Containers: []string{
				".el-pagination",
				".pagination",
				".pager",
				".page-box",
				"[class*='pagination']",
			},
			NextLabels:      []string{"下一页", ">"},
			MaxAttempts:     3,
			RetryDelay:      Duration(800 * time.Millisecond),
			ConfirmTimeout:  Duration(12 * time.Second),
			ConfirmInterval: Duration(500 * time.Millisecond),
			BaselineSize:    6,
			Settle:          Duration(time.Second),
		},
		Detail: DetailConfig{
			LoadAttempts:   2,
			ReadyTimeout:   Duration(10 * time.Second),
			LoadRetryDelay: Duration(1200 * time.Millisecond),
			Settle:         Duration(800 * time.Millisecond),
			TitleSuffix:    "_牛客网",
			Regions: []string{
				"article",
				"main",
				"[class*='detail']",
				"[class*='content']",
				"[class*='post']",
				"[class*='discuss']",
			},
			MinBlockLength:     80,
			MinParagraphLength: 6,
			MinContentLength:   50,
			Phrases:            []string{"扫码下载牛客APP"},
		},
		Record: RecordConfig{
			Tags:          []string{"Java", "校招"},
			SummaryLength: 100,
		},
		Corpus: CorpusConfig{
			OnCorrupt: "abort",
		},
		Schedule: ScheduleConfig{
			StatePath:       "crawler_state.json",
			PeakMonths:      []int{3, 4, 9, 10},
			OffPeakInterval: Duration(72 * time.Hour),
			CheckInterval:   Duration(24 * time.Hour),
		},
		History: HistoryConfig{
			DSN: "harvest.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values the crawler cannot use.
func (c *Config) Validate() error {
	if c.SearchURL == "" {
		return ErrMissingSearchURL
	}
	if c.OutputPath == "" {
		return ErrMissingOutputPath
	}
	if c.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	if c.TargetCount < 1 {
		return ErrInvalidTargetCount
	}
	if c.Browser.Engine != EngineChrome && c.Browser.Engine != EngineStatic {
		return fmt.Errorf("%w: %q", ErrInvalidEngine, c.Browser.Engine)
	}
	if c.Pager.MaxAttempts < 1 || c.Detail.LoadAttempts < 1 {
		return ErrInvalidAttempts
	}
	if len(c.Pager.Containers) == 0 || len(c.Detail.Regions) == 0 {
		return ErrEmptySelectors
	}
	if c.Corpus.OnCorrupt != "abort" && c.Corpus.OnCorrupt != "reset" {
		return fmt.Errorf("%w: %q", ErrInvalidOnCorrupt, c.Corpus.OnCorrupt)
	}
	for _, m := range c.Schedule.PeakMonths {
		if m < 1 || m > 12 {
			return fmt.Errorf("%w: %d", ErrInvalidPeakMonth, m)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}
	return nil
}

// NewLogger builds the logger described by the logging section.
func (c *Config) NewLogger() *logger.Logger {
	return logger.New(logger.Options{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	})
}
