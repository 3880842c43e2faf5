package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "PULSE"

	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "pulse.db"
	defaultLogLevel         = "info"
	defaultTimezone         = "Asia/Tokyo"
	defaultParallelism      = 4
	defaultCacheTTLMinutes  = 10
	defaultSweepIntervalMin = 240
	defaultSweepWindowDays  = 7
	defaultSweepBudgetMin   = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	Timezone      *time.Location
	Parallelism   int
	RedisURL      string
	CacheTTL      time.Duration
	SweepInterval time.Duration
	SweepWindow   int
	SweepBudget   time.Duration
	BadgesPath    string
	TrophiesPath  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("aggregation.timezone", defaultTimezone)
	configViper.SetDefault("aggregation.parallelism", defaultParallelism)
	configViper.SetDefault("cache.redis_url", "")
	configViper.SetDefault("cache.ttl_minutes", defaultCacheTTLMinutes)
	configViper.SetDefault("sweep.interval_minutes", defaultSweepIntervalMin)
	configViper.SetDefault("sweep.window_days", defaultSweepWindowDays)
	configViper.SetDefault("sweep.run_budget_minutes", defaultSweepBudgetMin)
	configViper.SetDefault("badges.path", "")
	configViper.SetDefault("trophies.path", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	timezoneName := configViper.GetString("aggregation.timezone")
	location, err := time.LoadLocation(strings.TrimSpace(timezoneName))
	if err != nil {
		return AppConfig{}, fmt.Errorf("aggregation.timezone %q is not a valid IANA zone: %w", timezoneName, err)
	}

	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		Timezone:      location,
		Parallelism:   configViper.GetInt("aggregation.parallelism"),
		RedisURL:      configViper.GetString("cache.redis_url"),
		CacheTTL:      time.Duration(configViper.GetInt("cache.ttl_minutes")) * time.Minute,
		SweepInterval: time.Duration(configViper.GetInt("sweep.interval_minutes")) * time.Minute,
		SweepWindow:   configViper.GetInt("sweep.window_days"),
		SweepBudget:   time.Duration(configViper.GetInt("sweep.run_budget_minutes")) * time.Minute,
		BadgesPath:    configViper.GetString("badges.path"),
		TrophiesPath:  configViper.GetString("trophies.path"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("aggregation.parallelism must be at least 1")
	}
	if c.SweepWindow < 1 {
		return fmt.Errorf("sweep.window_days must be at least 1")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep.interval_minutes must be positive")
	}
	if c.SweepBudget <= 0 {
		return fmt.Errorf("sweep.run_budget_minutes must be positive")
	}
	return nil
}
