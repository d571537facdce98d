// Package config содержит логику чтения конфигурации сервиса счетов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса счетов.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	SociosServiceAddress string `env:"SOCIOS_SERVICE_ADDRESS"`
	SociosTimeoutSec     int    `env:"SOCIOS_TIMEOUT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSociosAddress := cfg.SociosServiceAddress
	envSociosTimeout := cfg.SociosTimeoutSec

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8081", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (runs on the in-memory store when empty)")
	flag.StringVar(&cfg.SociosServiceAddress, "s", "http://localhost:8080", "socios service address")
	flag.IntVar(&cfg.SociosTimeoutSec, "t", 5, "socios request timeout in seconds")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSociosAddress != "" {
		cfg.SociosServiceAddress = envSociosAddress
	}
	if envSociosTimeout != 0 {
		cfg.SociosTimeoutSec = envSociosTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8081"
	}
	if cfg.SociosTimeoutSec <= 0 {
		cfg.SociosTimeoutSec = 5
	}

	return cfg, nil
}
