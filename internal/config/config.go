// Package config loads server settings from an optional YAML file overlaid
// with DISHDASH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minSecretLen = 32

// SeedUser is created at startup when missing.
type SeedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// Config holds every runtime setting of the API server.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	GRPCAddr     string `yaml:"grpc_addr"`
	LogLevel     string `yaml:"log_level"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	RedisAddr    string `yaml:"redis_addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`

	JWT struct {
		Secret     string        `yaml:"secret"`
		Issuer     string        `yaml:"issuer"`
		AccessTTL  time.Duration `yaml:"access_ttl"`
		RefreshTTL time.Duration `yaml:"refresh_ttl"`
	} `yaml:"jwt"`

	RateLimit struct {
		Requests      int           `yaml:"requests"`
		Window        time.Duration `yaml:"window"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"rate_limit"`

	LoginThrottle struct {
		Burst     int     `yaml:"burst"`
		PerMinute float64 `yaml:"per_minute"`
	} `yaml:"login_throttle"`

	SeedUsers []SeedUser `yaml:"seed_users"`
}

// Default returns the built-in settings.
func Default() Config {
	var c Config
	c.ListenAddr = ":8080"
	c.GRPCAddr = ":9090"
	c.LogLevel = "info"
	c.MaxBodyBytes = 1 << 20
	c.JWT.Issuer = "dishdash"
	c.JWT.AccessTTL = 24 * time.Hour
	c.JWT.RefreshTTL = 7 * 24 * time.Hour
	c.RateLimit.Requests = 100
	c.RateLimit.Window = time.Minute
	c.RateLimit.SweepInterval = 5 * time.Minute
	c.LoginThrottle.Burst = 10
	c.LoginThrottle.PerMinute = 5
	return c
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("DISHDASH_LISTEN_ADDR", &c.ListenAddr)
	str("DISHDASH_GRPC_ADDR", &c.GRPCAddr)
	str("DISHDASH_LOG_LEVEL", &c.LogLevel)
	str("DISHDASH_PG_DSN", &c.PostgresDSN)
	str("DISHDASH_REDIS_ADDR", &c.RedisAddr)
	str("DISHDASH_JWT_SECRET", &c.JWT.Secret)
	str("DISHDASH_JWT_ISSUER", &c.JWT.Issuer)
	return errors.Join(
		dur("DISHDASH_ACCESS_TTL", &c.JWT.AccessTTL),
		dur("DISHDASH_REFRESH_TTL", &c.JWT.RefreshTTL),
		num("DISHDASH_RATE_LIMIT_REQUESTS", &c.RateLimit.Requests),
		dur("DISHDASH_RATE_LIMIT_WINDOW", &c.RateLimit.Window),
	)
}

// Validate checks settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWT.Secret) < minSecretLen {
		errs = append(errs, fmt.Errorf("jwt.secret must be at least %d bytes", minSecretLen))
	}
	if c.JWT.AccessTTL < time.Second {
		errs = append(errs, errors.New("jwt.access_ttl must be at least 1s"))
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		errs = append(errs, errors.New("jwt.refresh_ttl must exceed jwt.access_ttl"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
	}
	for i, u := range c.SeedUsers {
		if strings.TrimSpace(u.Email) == "" || u.Password == "" {
			errs = append(errs, fmt.Errorf("seed_users[%d]: email and password are required", i))
		}
	}
	return errors.Join(errs...)
}
