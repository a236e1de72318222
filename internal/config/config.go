// Package config содержит логику чтения конфигурации портала.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации портала.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	AdminEmail  string `env:"ADMIN_EMAIL"`

	RegistrationBonus int64         `env:"REGISTRATION_BONUS" envDefault:"100"`
	MinWithdrawal     int64         `env:"MIN_WITHDRAWAL" envDefault:"1000"`
	PointsPerUnit     int64         `env:"POINTS_PER_UNIT" envDefault:"1000"`
	RateVersion       int           `env:"RATE_VERSION" envDefault:"1"`
	Currency          string        `env:"CURRENCY" envDefault:"USD"`
	TaskCooldown      time.Duration `env:"TASK_COOLDOWN" envDefault:"24h"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth cookies")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PointsPerUnit <= 0 {
		return fmt.Errorf("POINTS_PER_UNIT must be positive, got %d", c.PointsPerUnit)
	}
	if c.MinWithdrawal <= 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive, got %d", c.MinWithdrawal)
	}
	if c.RegistrationBonus < 0 {
		return fmt.Errorf("REGISTRATION_BONUS must not be negative, got %d", c.RegistrationBonus)
	}
	if c.TaskCooldown <= 0 {
		return fmt.Errorf("TASK_COOLDOWN must be positive, got %s", c.TaskCooldown)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive, got %g and %d", c.RateLimitRPS, c.RateLimitBurst)
	}
	return nil
}
