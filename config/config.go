// Package config loads service settings from the environment and an optional policy file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all service settings.
type Config struct {
	TelegramToken   string
	TelegramAPIURL  string
	LedgerPath      string
	DatabaseURL     string
	LocalStorage    string
	StorageBucket   string
	LegacyUsersFile string
	Port            string
	ChromePath      string
	Timezone        string
	LogFile         string
	LogLevel        slog.Level
	Headless        bool
	Policy          Policy
}

// Policy holds the scan pacing and filtering values.
type Policy struct {
	MaxItems      int           `yaml:"max_items"`
	FreshnessDays int           `yaml:"freshness_days"`
	NavAttempts   uint          `yaml:"nav_attempts"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	NavDelay      time.Duration `yaml:"nav_delay"`
	Settle        time.Duration `yaml:"settle"`
	ScrollPx      int           `yaml:"scroll_px"`
	ScrollSettle  time.Duration `yaml:"scroll_settle"`
	PauseMin      time.Duration `yaml:"pause_min"`
	PauseMax      time.Duration `yaml:"pause_max"`
	CycleMin      time.Duration `yaml:"cycle_min"`
	CycleMax      time.Duration `yaml:"cycle_max"`
	SendPerSecond float64       `yaml:"send_per_second"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxItems:      15,
		FreshnessDays: 3,
		NavAttempts:   3,
		NavTimeout:    30 * time.Second,
		NavDelay:      10 * time.Second,
		Settle:        5 * time.Second,
		ScrollPx:      1000,
		ScrollSettle:  3 * time.Second,
		PauseMin:      5 * time.Second,
		PauseMax:      10 * time.Second,
		CycleMin:      28 * time.Minute,
		CycleMax:      32 * time.Minute,
		SendPerSecond: 1,
	}
}

// Load reads an optional .env file, then the environment, then POLICY_FILE if set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		TelegramToken:   getenv("TELEGRAM_TOKEN"),
		TelegramAPIURL:  withDefault(getenv("TELEGRAM_API_URL"), "https://api.telegram.org"),
		LedgerPath:      withDefault(getenv("LEDGER_PATH"), "production.db"),
		DatabaseURL:     getenv("DATABASE_URL"),
		LocalStorage:    getenv("LOCAL_STORAGE"),
		StorageBucket:   getenv("STORAGE_BUCKET"),
		LegacyUsersFile: withDefault(getenv("LEGACY_USERS_FILE"), "users.json"),
		Port:            withDefault(getenv("PORT"), "8080"),
		ChromePath:      getenv("CHROME_PATH"),
		Timezone:        withDefault(getenv("TIMEZONE"), "Asia/Jerusalem"),
		LogFile:         getenv("LOG_FILE"),
		Headless:        true,
		Policy:          DefaultPolicy(),
	}

	if cfg.StorageBucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
	}

	if v := getenv("HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("HEADLESS: %w", err)
		}
		cfg.Headless = b
	}

	level, err := parseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if path := getenv("POLICY_FILE"); path != "" {
		if err := cfg.Policy.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Policy.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// loadFile overlays the fields present in a YAML file onto p.
func (p *Policy) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return nil
}

func (p Policy) validate() error {
	switch {
	case p.MaxItems <= 0:
		return errors.New("policy: max_items must be positive")
	case p.FreshnessDays < 0:
		return errors.New("policy: freshness_days must not be negative")
	case p.NavAttempts == 0:
		return errors.New("policy: nav_attempts must be positive")
	case p.PauseMax < p.PauseMin:
		return errors.New("policy: pause_max is below pause_min")
	case p.CycleMax < p.CycleMin || p.CycleMin <= 0:
		return errors.New("policy: cycle window is invalid")
	case p.SendPerSecond <= 0:
		return errors.New("policy: send_per_second must be positive")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
