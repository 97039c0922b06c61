package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/playperu/adventure/internal/unlock"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/adventure.db"`
	RedisURL string     `env:"REDIS_URL"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@playperu.com"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"changeme"`
	SeedDemo      bool   `env:"SEED_DEMO" envDefault:"true"`

	UnlockRadius     float64 `env:"UNLOCK_RADIUS_METERS" envDefault:"50"`
	PreviewRadius    float64 `env:"PREVIEW_RADIUS_METERS" envDefault:"100"`
	TrackingThrottle float64 `env:"TRACKING_THROTTLE_METERS" envDefault:"5"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.UnlockRadius <= 0 {
		errs = append(errs, errors.New("UNLOCK_RADIUS_METERS must be positive"))
	}
	if c.PreviewRadius <= 0 {
		errs = append(errs, errors.New("PREVIEW_RADIUS_METERS must be positive"))
	}
	if c.TrackingThrottle < 0 {
		errs = append(errs, errors.New("TRACKING_THROTTLE_METERS must not be negative"))
	}
	if c.AdminEmail == "" || c.AdminPassword == "" {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required"))
	}
	return errors.Join(errs...)
}

// Unlock returns the engine radii.
func (c Config) Unlock() unlock.Config {
	return unlock.Config{
		UnlockRadius:     c.UnlockRadius,
		TrackingThrottle: c.TrackingThrottle,
		PreviewRadius:    c.PreviewRadius,
	}
}
