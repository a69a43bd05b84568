// Package config содержит логику чтения конфигурации сервиса картовед.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса картовед.
type Config struct {
	RunAddress              string        `env:"RUN_ADDRESS"`
	DatabaseURI             string        `env:"DATABASE_URI"`
	MerchantRegistryAddress string        `env:"MERCHANT_REGISTRY_ADDRESS"`
	DetectTimeout           time.Duration `env:"DETECT_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения; переменные окружения имеют приоритет.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRegistryAddress := cfg.MerchantRegistryAddress
	envDetectTimeout := cfg.DetectTimeout

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.MerchantRegistryAddress, "r", "", "merchant registry address")
	flag.DurationVar(&cfg.DetectTimeout, "t", 500*time.Millisecond, "overall detection time budget")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRegistryAddress != "" {
		cfg.MerchantRegistryAddress = envRegistryAddress
	}
	if envDetectTimeout != 0 {
		cfg.DetectTimeout = envDetectTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 500 * time.Millisecond
	}

	return cfg, nil
}
