// Package config handles engine configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Settings is the immutable snapshot of masking configuration that every
// resolver reads. A new snapshot is taken per statement; nothing inside the
// engine mutates it.
type Settings struct {
	// MaskingPolicies is the raw comma-separated list of extra policies.
	MaskingPolicies           string
	PrivacyByDefault          bool
	StrictMode                bool
	RestrictToTrustedSchemas  bool
	TransparentDynamicMasking bool
	KAnonymityProvider        string
	// OwnSchema is the engine's own namespace. Relations in it are never masked.
	OwnSchema string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		StrictMode:               true,
		RestrictToTrustedSchemas: true,
		KAnonymityProvider:       "k_anonymity",
		OwnSchema:                "anon",
	}
}

// Config holds the configuration for the engine, its admin API and CLI.
type Config struct {
	DatabaseURL string // PostgreSQL connection string
	ListenAddr  string // admin API listen address (default ":8081")
	LogLevel    string // log level: debug, info, warn, error (default "info")
	JWTSecret   string // HS256 shared secret for the admin API; empty disables auth

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	StaticParallelism int // tables anonymized concurrently (default 4)
	RuleCacheSize     int // parsed-rule cache entries (default 1024)

	Masking Settings

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Settings returns the masking snapshot.
func (c *Config) Settings() Settings {
	return c.Masking
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	def := DefaultSettings()
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Masking: Settings{
			MaskingPolicies:           os.Getenv("ANON_MASKING_POLICIES"),
			PrivacyByDefault:          parseBoolEnvDefault("ANON_PRIVACY_BY_DEFAULT", def.PrivacyByDefault),
			StrictMode:                parseBoolEnvDefault("ANON_STRICT_MODE", def.StrictMode),
			RestrictToTrustedSchemas:  parseBoolEnvDefault("ANON_RESTRICT_TO_TRUSTED_SCHEMAS", def.RestrictToTrustedSchemas),
			TransparentDynamicMasking: parseBoolEnvDefault("ANON_TRANSPARENT_DYNAMIC_MASKING", def.TransparentDynamicMasking),
			KAnonymityProvider:        strings.TrimSpace(os.Getenv("ANON_K_ANONYMITY_PROVIDER")),
			OwnSchema:                 strings.TrimSpace(os.Getenv("ANON_SCHEMA")),
		},
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("ANON_STATIC_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("ANON_STATIC_PARALLELISM must be a positive integer, got %q", v)
		}
		cfg.StaticParallelism = n
	}
	if v := os.Getenv("ANON_RULE_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("ANON_RULE_CACHE_SIZE must be a positive integer, got %q", v)
		}
		cfg.RuleCacheSize = n
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8081"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}
	if cfg.StaticParallelism == 0 {
		cfg.StaticParallelism = 4
	}
	if cfg.RuleCacheSize == 0 {
		cfg.RuleCacheSize = 1024
	}
	if cfg.Masking.KAnonymityProvider == "" {
		cfg.Masking.KAnonymityProvider = def.KAnonymityProvider
	}
	if cfg.Masking.OwnSchema == "" {
		cfg.Masking.OwnSchema = def.OwnSchema
	}
	if cfg.DatabaseURL == "" {
		cfg.Warnings = append(cfg.Warnings, "DATABASE_URL not set; only offline fixture mode is available")
	}
	if cfg.JWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set; the admin API accepts unauthenticated requests")
	}
	if !cfg.Masking.RestrictToTrustedSchemas {
		cfg.Warnings = append(cfg.Warnings, "ANON_RESTRICT_TO_TRUSTED_SCHEMAS is off; masking functions are not verified")
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	vars, err := ReadDotEnv(path)
	if err != nil {
		return err
	}
	for _, kv := range vars {
		if os.Getenv(kv[0]) == "" {
			if err := os.Setenv(kv[0], kv[1]); err != nil {
				return fmt.Errorf("setenv %s: %w", kv[0], err)
			}
		}
	}
	return nil
}

// ReadDotEnv returns the KEY=VALUE pairs of a .env file in file order
// without touching the environment. A missing file yields no pairs.
func ReadDotEnv(path string) ([][2]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	var vars [][2]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars = append(vars, [2]string{strings.TrimSpace(key), stripQuotes(strings.TrimSpace(value))})
	}
	return vars, scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
