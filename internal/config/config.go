// Package config loads service settings from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	DBMigrate   bool   `yaml:"dbMigrate"`
	RedisURL    string `yaml:"redisUrl"`

	// Timezone is the organization's local zone used for day bucketing.
	Timezone string `yaml:"timezone"`

	RunTimeout        time.Duration `yaml:"runTimeout"`
	CommitTimeout     time.Duration `yaml:"commitTimeout"`
	FetchConcurrency  int           `yaml:"fetchConcurrency"`
	CommitConcurrency int           `yaml:"commitConcurrency"`
	LockTTL           time.Duration `yaml:"lockTtl"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	WebhookURL         string `yaml:"webhookUrl"`
	WebhookSecret      string `yaml:"webhookSecret"`
	WebhookMaxAttempts int    `yaml:"webhookMaxAttempts"`
}

var ErrInvalid = errors.New("invalid configuration")

func Default() Config {
	return Config{
		Port:               "8080",
		DBMigrate:          true,
		Timezone:           "UTC",
		RunTimeout:         2 * time.Minute,
		CommitTimeout:      30 * time.Second,
		FetchConcurrency:   8,
		CommitConcurrency:  8,
		LockTTL:            5 * time.Minute,
		RateRPS:            1,
		RateBurst:          2,
		WebhookMaxAttempts: 5,
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("ORG_TIMEZONE", &c.Timezone)
	str("WEBHOOK_URL", &c.WebhookURL)
	str("WEBHOOK_SECRET", &c.WebhookSecret)

	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.DBMigrate = v != "false"
	}
	durs := map[string]*time.Duration{
		"RUN_TIMEOUT":    &c.RunTimeout,
		"COMMIT_TIMEOUT": &c.CommitTimeout,
		"LOCK_TTL":       &c.LockTTL,
	}
	for k, dst := range durs {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
			}
			*dst = d
		}
	}
	ints := map[string]*int{
		"FETCH_CONCURRENCY":    &c.FetchConcurrency,
		"COMMIT_CONCURRENCY":   &c.CommitConcurrency,
		"RATE_BURST":           &c.RateBurst,
		"WEBHOOK_MAX_ATTEMPTS": &c.WebhookMaxAttempts,
	}
	for k, dst := range ints {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
			}
			*dst = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: RATE_RPS: %v", ErrInvalid, err)
		}
		c.RateRPS = f
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RunTimeout <= 0 || c.CommitTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	if c.LockTTL < c.RunTimeout+c.CommitTimeout {
		return fmt.Errorf("%w: LOCK_TTL %v must cover RUN_TIMEOUT + COMMIT_TIMEOUT (%v)", ErrInvalid, c.LockTTL, c.RunTimeout+c.CommitTimeout)
	}
	if c.FetchConcurrency < 1 || c.CommitConcurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1", ErrInvalid)
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rate limits must be >= 0", ErrInvalid)
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// Redacted is safe to expose on debug endpoints.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"PORT":                 c.Port,
		"ORG_TIMEZONE":         c.Timezone,
		"RUN_TIMEOUT":          c.RunTimeout.String(),
		"COMMIT_TIMEOUT":       c.CommitTimeout.String(),
		"LOCK_TTL":             c.LockTTL.String(),
		"FETCH_CONCURRENCY":    c.FetchConcurrency,
		"COMMIT_CONCURRENCY":   c.CommitConcurrency,
		"RATE_RPS":             c.RateRPS,
		"RATE_BURST":           c.RateBurst,
		"WEBHOOK_MAX_ATTEMPTS": c.WebhookMaxAttempts,
		"HAS_DATABASE_URL":     c.DatabaseURL != "",
		"HAS_REDIS_URL":        c.RedisURL != "",
		"HAS_WEBHOOK_URL":      c.WebhookURL != "",
	}
}
