package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Stash      StashConfig      `mapstructure:"stash"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Automation AutomationConfig `mapstructure:"automation"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Shortcuts  map[string]string `mapstructure:"shortcuts"`
}

// ServerConfig holds control API server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StashConfig holds connection settings for the cataloging application.
type StashConfig struct {
	Endpoint  string `mapstructure:"endpoint"`   // GraphQL endpoint URL
	APIKey    string `mapstructure:"api_key"`    // optional ApiKey header
	TimeoutMS int    `mapstructure:"timeout_ms"` // request timeout (default: 10000)
	CacheTTLS int    `mapstructure:"cache_ttl_s"` // scene read cache TTL (default: 5)
}

// BrowserConfig controls how the agent reaches the host application's UI.
type BrowserConfig struct {
	// Remote is the DevTools WebSocket URL of a running Chrome instance.
	// Empty = launch a local Chrome via the rod launcher.
	Remote   string `mapstructure:"remote"`
	Headless bool   `mapstructure:"headless"`
	// BaseURL is the host application root, e.g. "http://localhost:9999".
	BaseURL string `mapstructure:"base_url"`
}

// AutomationConfig holds the automation policy knobs.
type AutomationConfig struct {
	UseStashDB              bool     `mapstructure:"use_stashdb"`
	UseThePornDB            bool     `mapstructure:"use_theporndb"`
	SkipAlreadyScraped      bool     `mapstructure:"skip_already_scraped"`
	AutoApply               bool     `mapstructure:"auto_apply"`
	CreatePerformers        bool     `mapstructure:"create_performers"`
	AutoOrganize            bool     `mapstructure:"auto_organize"`
	OrganizeRequiresAll     bool     `mapstructure:"organize_requires_all_sources"`
	ThumbnailImprovementPct int      `mapstructure:"thumbnail_improvement_pct"`
	HistoryLimit            int      `mapstructure:"history_limit"`
	NegativePhrases         []string `mapstructure:"negative_phrases"`
	// Selector overrides, keyed by the names in dom.DefaultSelectors.
	Selectors map[string]string `mapstructure:"selectors"`
}

// BatchConfig controls multi-scene batch automation.
type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency"` // parallel scenes (default: 3)
	MaxRetries  int    `mapstructure:"max_retries"` // per-scene retries (default: 3)
	Cron        string `mapstructure:"cron"`        // schedule, empty = manual only
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// AuthConfig holds control API authentication settings.
type AuthConfig struct {
	// PasswordHash is a bcrypt hash. Empty disables authentication.
	PasswordHash string `mapstructure:"password_hash"`
	JWTSecret    string `mapstructure:"jwt_secret"`
}

// DefaultNegativePhrases are the toast/alert fragments treated as a
// failed scrape. The host UI wording drifts between releases, so the
// list is configuration, not contract.
var DefaultNegativePhrases = []string{
	"no results", "no matches", "not found", "failed",
	"error", "could not", "unable to", "empty",
}

// DefaultShortcuts maps control actions to key chords. The chords are
// served to the control UI; the agent itself does no key handling.
var DefaultShortcuts = map[string]string{
	"automate":    "alt+a",
	"cancel":      "alt+c",
	"skip_source": "alt+s",
	"rescrape":    "alt+r",
	"history":     "alt+h",
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.scenepilot")
	}

	v.SetEnvPrefix("SCENEPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9720)

	v.SetDefault("stash.endpoint", "http://localhost:9999/graphql")
	v.SetDefault("stash.timeout_ms", 10000)
	v.SetDefault("stash.cache_ttl_s", 5)

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.base_url", "http://localhost:9999")

	v.SetDefault("automation.use_stashdb", true)
	v.SetDefault("automation.use_theporndb", true)
	v.SetDefault("automation.skip_already_scraped", true)
	v.SetDefault("automation.auto_apply", false)
	v.SetDefault("automation.create_performers", true)
	v.SetDefault("automation.auto_organize", true)
	v.SetDefault("automation.organize_requires_all_sources", true)
	v.SetDefault("automation.thumbnail_improvement_pct", 20)
	v.SetDefault("automation.history_limit", 100)
	v.SetDefault("automation.negative_phrases", DefaultNegativePhrases)

	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.cron", "")

	v.SetDefault("database.path", "./data/scenepilot.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("shortcuts", DefaultShortcuts)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
