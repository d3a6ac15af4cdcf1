package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spotfinder/logger"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service and the CLI
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       logger.Config   `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIConfig holds API access settings
type APIConfig struct {
	RequireKey         bool     `mapstructure:"require_key"`
	Keys               []string `mapstructure:"keys"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// BrowserConfig controls the headless browser
type BrowserConfig struct {
	Bin            string        `mapstructure:"bin"`
	Headless       bool          `mapstructure:"headless"`
	Stealth        bool          `mapstructure:"stealth"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	UserAgent      string        `mapstructure:"user_agent"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
}

// ScraperConfig tunes listing extraction and matching
type ScraperConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	SearchPath          string        `mapstructure:"search_path"`
	InitialSettle       time.Duration `mapstructure:"initial_settle"`
	PopupTimeout        time.Duration `mapstructure:"popup_timeout"`
	ForceProductsTab    bool          `mapstructure:"force_products_tab"`
	ScrollSettle        time.Duration `mapstructure:"scroll_settle"`
	MaxScrollIterations int           `mapstructure:"max_scroll_iterations"`
	MinLinks            int           `mapstructure:"min_links"`
	LinkWait            time.Duration `mapstructure:"link_wait"`
	LinkPollInterval    time.Duration `mapstructure:"link_poll_interval"`
	NetworkSettle       time.Duration `mapstructure:"network_settle"`
	Strategies          []string      `mapstructure:"strategies"`
	FuzzyThreshold      float64       `mapstructure:"fuzzy_threshold"`
	DedupeGrid          float64       `mapstructure:"dedupe_grid"`
	MinTileSize         float64       `mapstructure:"min_tile_size"`
	MaxCandidates       int           `mapstructure:"max_candidates"`
	DebugDir            string        `mapstructure:"debug_dir"`
}

// DatabaseConfig holds the Postgres connection string; empty disables tracking
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// SchedulerConfig controls async workers and scheduled re-checks
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Spec         string        `mapstructure:"spec"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

// Strategy names accepted in scraper.strategies
const (
	StrategyNetwork = "network"
	StrategyStrict  = "strict"
	StrategyRelaxed = "relaxed"
)

const envPrefix = "SPOTFINDER"

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			RequestTimeout: 3 * time.Minute,
		},
		API: APIConfig{
			RequireKey:         true,
			RateLimitPerMinute: 30,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Stealth:        true,
			ViewportWidth:  1440,
			ViewportHeight: 900,
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
				"(KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
			NavTimeout: 60 * time.Second,
		},
		Scraper: DefaultScraperConfig(),
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Spec:         "0 0 6 * * *",
			MaxWorkers:   2,
			QueueSize:    50,
			CheckTimeout: 3 * time.Minute,
		},
		Log: logger.Config{Level: "info"},
	}
}

// DefaultScraperConfig returns the tuned extraction defaults
func DefaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		BaseURL:             "https://www.takealot.com",
		SearchPath:          "/all?_sb=",
		InitialSettle:       3 * time.Second,
		PopupTimeout:        1500 * time.Millisecond,
		ForceProductsTab:    true,
		ScrollSettle:        1200 * time.Millisecond,
		MaxScrollIterations: 30,
		MinLinks:            1,
		LinkWait:            15 * time.Second,
		LinkPollInterval:    500 * time.Millisecond,
		NetworkSettle:       4 * time.Second,
		Strategies:          []string{StrategyStrict, StrategyRelaxed},
		FuzzyThreshold:      0.92,
		DedupeGrid:          10,
		MinTileSize:         120,
		MaxCandidates:       0,
		DebugDir:            "debug",
	}
}

// Load reads configuration from defaults, an optional config file and the environment.
// cfgFile may be empty, in which case ./config.yaml is used when present.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v, Defaults())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindLegacyEnv keeps the plain variable names used by existing deployments working
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("server.host", envPrefix+"_SERVER_HOST", "HOST")
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("server.allowed_origins", envPrefix+"_SERVER_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")
	_ = v.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("log.level", envPrefix+"_LOG_LEVEL", "LOG_LEVEL")
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)

	v.SetDefault("api.require_key", d.API.RequireKey)
	v.SetDefault("api.keys", d.API.Keys)
	v.SetDefault("api.rate_limit_per_minute", d.API.RateLimitPerMinute)

	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.stealth", d.Browser.Stealth)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.nav_timeout", d.Browser.NavTimeout)

	v.SetDefault("scraper.base_url", d.Scraper.BaseURL)
	v.SetDefault("scraper.search_path", d.Scraper.SearchPath)
	v.SetDefault("scraper.initial_settle", d.Scraper.InitialSettle)
	v.SetDefault("scraper.popup_timeout", d.Scraper.PopupTimeout)
	v.SetDefault("scraper.force_products_tab", d.Scraper.ForceProductsTab)
	v.SetDefault("scraper.scroll_settle", d.Scraper.ScrollSettle)
	v.SetDefault("scraper.max_scroll_iterations", d.Scraper.MaxScrollIterations)
	v.SetDefault("scraper.min_links", d.Scraper.MinLinks)
	v.SetDefault("scraper.link_wait", d.Scraper.LinkWait)
	v.SetDefault("scraper.link_poll_interval", d.Scraper.LinkPollInterval)
	v.SetDefault("scraper.network_settle", d.Scraper.NetworkSettle)
	v.SetDefault("scraper.strategies", d.Scraper.Strategies)
	v.SetDefault("scraper.fuzzy_threshold", d.Scraper.FuzzyThreshold)
	v.SetDefault("scraper.dedupe_grid", d.Scraper.DedupeGrid)
	v.SetDefault("scraper.min_tile_size", d.Scraper.MinTileSize)
	v.SetDefault("scraper.max_candidates", d.Scraper.MaxCandidates)
	v.SetDefault("scraper.debug_dir", d.Scraper.DebugDir)

	v.SetDefault("database.url", d.Database.URL)

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.spec", d.Scheduler.Spec)
	v.SetDefault("scheduler.max_workers", d.Scheduler.MaxWorkers)
	v.SetDefault("scheduler.queue_size", d.Scheduler.QueueSize)
	v.SetDefault("scheduler.check_timeout", d.Scheduler.CheckTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.API.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.API.RateLimitPerMinute)
	}
	if c.Scheduler.MaxWorkers < 1 {
		return fmt.Errorf("scheduler max_workers must be at least 1, got %d", c.Scheduler.MaxWorkers)
	}
	return c.Scraper.Validate()
}

// Validate checks the settings only the HTTP API depends on
func (a APIConfig) Validate() error {
	if a.RequireKey && len(a.Keys) == 0 {
		return errors.New("api keys are required when api.require_key is true (set SPOTFINDER_API_KEYS)")
	}
	return nil
}

// Validate checks the scraper tuning values
func (s *ScraperConfig) Validate() error {
	if s.BaseURL == "" {
		return errors.New("scraper base_url is required")
	}
	if s.FuzzyThreshold <= 0 || s.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be in (0, 1], got %v", s.FuzzyThreshold)
	}
	if s.DedupeGrid <= 0 {
		return fmt.Errorf("dedupe_grid must be positive, got %v", s.DedupeGrid)
	}
	if s.MaxScrollIterations < 1 {
		return fmt.Errorf("max_scroll_iterations must be at least 1, got %d", s.MaxScrollIterations)
	}
	if len(s.Strategies) == 0 {
		return errors.New("at least one extraction strategy is required")
	}
	for _, name := range s.Strategies {
		switch strings.TrimSpace(name) {
		case StrategyNetwork, StrategyStrict, StrategyRelaxed:
		default:
			return fmt.Errorf("unknown extraction strategy %q", name)
		}
	}
	return nil
}

// SearchURL builds the listing URL for a category. The category is expected to be escaped.
func (s *ScraperConfig) SearchURL(escapedCategory string) string {
	return strings.TrimRight(s.BaseURL, "/") + s.SearchPath + escapedCategory
}
