package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Store Configuration:
// - DATA_DIR: directory holding the per-language-pair databases (default: ./data)
// - SOURCE_LANG: BCP 47 source language (default: en)
// - TARGET_LANGS: comma-separated BCP 47 target languages (required)
//
// Dispatch Configuration:
// - MIN_QUALITY: minimum provider quality accepted for dispatch (default: 0)
// - LEVERAGE_MIN_QUALITY: quality floor for counting a unit as translated (default: 40)
// - PARALLELISM: default per-task parallelism when a provider declares none (default: 4)
// - UPDATE_CRON_EXPR: schedule of the pending-job update pass (default: every 5 minutes)
//
// System Configuration:
// - REGRESSION_MODE: deterministic job guids, task names and timestamps (default: false)
// - LOG_LEVEL: debug, info, warn, error or fatal (default: info)
// - TZ: timezone (default: UTC)

type Config struct {
	Store    StoreConfig    `json:"store"`
	Dispatch DispatchConfig `json:"dispatch"`
	System   SystemConfig   `json:"system"`
}

type StoreConfig struct {
	DataDir     string         `json:"data_dir"`
	SourceLang  language.Tag   `json:"source_lang"`
	TargetLangs []language.Tag `json:"target_langs"`
}

type DispatchConfig struct {
	MinQuality         int    `json:"min_quality"`
	LeverageMinQuality int    `json:"leverage_min_quality"`
	Parallelism        int    `json:"parallelism"`
	UpdateCronExpr     string `json:"update_cron_expr"`
}

type SystemConfig struct {
	RegressionMode bool   `json:"regression_mode"`
	LogLevel       string `json:"log_level"`
	TZ             string `json:"tz"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithTargetLangs overrides the configured target languages.
func WithTargetLangs(tags ...language.Tag) Option {
	return func(c *Config) { c.Store.TargetLangs = tags }
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	source, err := parseLang(getEnvString("SOURCE_LANG", "en"))
	if err != nil {
		return nil, fmt.Errorf("SOURCE_LANG: %w", err)
	}
	targets, err := parseLangList(getEnvString("TARGET_LANGS", ""))
	if err != nil {
		return nil, fmt.Errorf("TARGET_LANGS: %w", err)
	}

	config := &Config{
		Store: StoreConfig{
			DataDir:     getEnvString("DATA_DIR", "./data"),
			SourceLang:  source,
			TargetLangs: targets,
		},
		Dispatch: DispatchConfig{
			MinQuality:         getEnvInt("MIN_QUALITY", 0),
			LeverageMinQuality: getEnvInt("LEVERAGE_MIN_QUALITY", 40),
			Parallelism:        getEnvInt("PARALLELISM", 4),
			UpdateCronExpr:     getEnvString("UPDATE_CRON_EXPR", "*/5 * * * *"),
		},
		System: SystemConfig{
			RegressionMode: getEnvBool("REGRESSION_MODE", false),
			LogLevel:       getEnvString("LOG_LEVEL", "info"),
			TZ:             getEnvString("TZ", "UTC"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if len(c.Store.TargetLangs) == 0 {
		return fmt.Errorf("TARGET_LANGS is required")
	}
	if c.Dispatch.Parallelism < 1 {
		return fmt.Errorf("PARALLELISM must be at least 1")
	}
	for _, target := range c.Store.TargetLangs {
		if target == c.Store.SourceLang {
			return fmt.Errorf("target language %s equals the source language", target)
		}
	}
	return nil
}

func parseLang(s string) (language.Tag, error) {
	return language.Parse(strings.TrimSpace(s))
}

func parseLangList(s string) ([]language.Tag, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	tags := make([]language.Tag, 0, len(parts))
	for _, p := range parts {
		tag, err := parseLang(p)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
