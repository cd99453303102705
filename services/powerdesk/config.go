// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package powerdesk

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

// Cache backends.
const (
	CacheBackendRedis  = "redis"
	CacheBackendBadger = "badger"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds all settings of the PowerDesk server.
//
// # Description
//
// Every field maps to an environment variable. LoadConfig fills it from the
// process environment after loading any .env files; callers may also build
// a Config by hand, in which case New applies the same defaults to zero
// values.
type Config struct {
	// HTTP server.
	Port          int    `env:"PORT" envDefault:"8080"`
	GinMode       string `env:"GIN_MODE" envDefault:"release"`
	OTelEndpoint  string `env:"OTEL_ENDPOINT"`
	EnableMetrics bool   `env:"ENABLE_METRICS" envDefault:"true"`

	// Collectors are registered next to the service metrics when
	// EnableMetrics is set. Not read from the environment.
	Collectors []prometheus.Collector

	// Persistence.
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"powerdesk.db"`

	// Response cache.
	CacheBackend  string        `env:"CACHE_BACKEND" envDefault:"redis"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	BadgerPath    string        `env:"BADGER_PATH"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	// External chat service.
	DeepSeekBaseURL  string        `env:"DEEPSEEK_BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	DeepSeekAPIKey   string        `env:"DEEPSEEK_API_KEY"`
	DeepSeekModel    string        `env:"DEEPSEEK_MODEL" envDefault:"deepseek-chat"`
	DeepSeekUseMock  bool          `env:"DEEPSEEK_USE_MOCK" envDefault:"false"`
	MockChunkDelay   time.Duration `env:"MOCK_CHUNK_DELAY" envDefault:"100ms"`
	StreamTimeout    time.Duration `env:"STREAM_TIMEOUT" envDefault:"5m"`
	ReplayChunkDelay time.Duration `env:"REPLAY_CHUNK_DELAY" envDefault:"50ms"`
	ExternalFallback bool          `env:"EXTERNAL_FALLBACK" envDefault:"true"`

	// Tokens.
	JWTSecret     string        `env:"JWT_SECRET"`
	JWTTTL        time.Duration `env:"JWT_TTL" envDefault:"24h"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	// History retention. Zero keeps history forever.
	HistoryRetention  time.Duration `env:"HISTORY_RETENTION" envDefault:"0s"`
	RetentionSchedule string        `env:"RETENTION_SCHEDULE" envDefault:"0 3 * * *"`

	// Per-IP limit on /api/chat*. Zero disables it.
	ChatRateLimit float64 `env:"CHAT_RATE_LIMIT" envDefault:"5"`
	ChatRateBurst int     `env:"CHAT_RATE_BURST" envDefault:"10"`

	// Logging, applied by the command line before the server starts.
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogDir    string `env:"LOG_DIR"`
}

// LoadConfig reads .env files, then the environment.
//
// # Inputs
//
//   - files: .env files to load. Default: ".env". Missing files are
//     skipped; variables already set in the environment win.
//
// # Outputs
//
//   - Config: Parsed configuration with defaults applied.
//   - error: A file exists but cannot be parsed, or a variable has the
//     wrong type.
func LoadConfig(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return applyConfigDefaults(cfg), nil
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "", repository.DriverSQLite, repository.DriverMySQL:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.CacheBackend {
	case "", CacheBackendRedis, CacheBackendBadger:
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.ChatRateLimit < 0 || c.ChatRateBurst < 0 {
		return errors.New("CHAT_RATE_LIMIT and CHAT_RATE_BURST must not be negative")
	}
	return nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = repository.DriverSQLite
	}
	if cfg.DBDSN == "" && cfg.DBDriver == repository.DriverSQLite {
		cfg.DBDSN = "powerdesk.db"
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = CacheBackendRedis
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.DeepSeekModel == "" {
		cfg.DeepSeekModel = "deepseek-chat"
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = "0 3 * * *"
	}
	return cfg
}
