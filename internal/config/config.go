// Package config provides Viper-based configuration loading for the quiz bot.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// VKConfig holds VK API credentials and long-poll settings.
type VKConfig struct {
	// Token is the group access token used for every API call.
	Token string `mapstructure:"token"`
	// GroupID is the community identifier the bot acts on behalf of.
	GroupID int64 `mapstructure:"group_id"`
	// APIHost is the VK API base URL. Overridable for tests.
	APIHost string `mapstructure:"api_host"`
	// Version is the VK API version string.
	Version string `mapstructure:"version"`
	// PollWait is the long-poll hold duration in seconds.
	PollWait int `mapstructure:"poll_wait"`
	// RequestTimeout is the HTTP client timeout for a single API call.
	// Must exceed PollWait or every poll times out client-side.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BotConfig holds game rule settings.
type BotConfig struct {
	// RoadmapSize is the number of questions sampled into a session roadmap.
	RoadmapSize int `mapstructure:"roadmap_size"`
	// FailureLimit is the number of wrong answers before elimination.
	FailureLimit int `mapstructure:"failure_limit"`
	// JoinWindowSeconds is the countdown shown after a game is created.
	JoinWindowSeconds int `mapstructure:"join_window_seconds"`
	// ReapInterval is how often the dispatcher discards finished units.
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// AdminConfig holds the question-bank admin HTTP surface settings.
type AdminConfig struct {
	// Host is the bind address for the admin HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the admin HTTP listener.
	Port int `mapstructure:"port"`
	// JWTSecret signs admin session tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	// TokenTTL is the admin session token lifetime.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	VK       VKConfig       `mapstructure:"vk"`
	Bot      BotConfig      `mapstructure:"bot"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateVK(c.VK); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBot(c.Bot); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAdmin(c.Admin); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateVK(v VKConfig) error {
	var errs []string
	if v.Token == "" {
		errs = append(errs, "vk.token must not be empty")
	}
	if v.GroupID < 1 {
		errs = append(errs, fmt.Sprintf("vk.group_id must be positive, got %d", v.GroupID))
	}
	if v.APIHost == "" {
		errs = append(errs, "vk.api_host must not be empty")
	}
	if v.Version == "" {
		errs = append(errs, "vk.version must not be empty")
	}
	if v.PollWait < 1 || v.PollWait > 90 {
		errs = append(errs, fmt.Sprintf("vk.poll_wait must be 1-90 seconds, got %d", v.PollWait))
	}
	if v.RequestTimeout <= time.Duration(v.PollWait)*time.Second {
		errs = append(errs, "vk.request_timeout must exceed vk.poll_wait")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBot(b BotConfig) error {
	var errs []string
	if b.RoadmapSize < 1 {
		errs = append(errs, fmt.Sprintf("bot.roadmap_size must be >= 1, got %d", b.RoadmapSize))
	}
	if b.FailureLimit < 1 {
		errs = append(errs, fmt.Sprintf("bot.failure_limit must be >= 1, got %d", b.FailureLimit))
	}
	if b.JoinWindowSeconds < 0 {
		errs = append(errs, fmt.Sprintf("bot.join_window_seconds must be >= 0, got %d", b.JoinWindowSeconds))
	}
	if b.ReapInterval <= 0 {
		errs = append(errs, "bot.reap_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.Port < 1 || a.Port > 65535 {
		errs = append(errs, fmt.Sprintf("admin.port must be 1-65535, got %d", a.Port))
	}
	if a.JWTSecret == "" {
		errs = append(errs, "admin.jwt_secret must not be empty")
	}
	if a.TokenTTL <= 0 {
		errs = append(errs, "admin.token_ttl must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with QUIZBOT_ prefix
	v.SetEnvPrefix("QUIZBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "quizbot")
	v.SetDefault("database.password", "quizbot")
	v.SetDefault("database.name", "quizbot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("vk.api_host", "https://api.vk.com/method/")
	v.SetDefault("vk.version", "5.131")
	v.SetDefault("vk.poll_wait", 30)
	v.SetDefault("vk.request_timeout", "45s")

	v.SetDefault("bot.roadmap_size", 5)
	v.SetDefault("bot.failure_limit", 3)
	v.SetDefault("bot.join_window_seconds", 10)
	v.SetDefault("bot.reap_interval", "10s")

	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.token_ttl", "12h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
