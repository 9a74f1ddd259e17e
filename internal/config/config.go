package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Load returns a fresh value on
// every call; nothing is cached at package level.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Ops      OpsConfig      `yaml:"ops"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig tunes the explainer
type EngineConfig struct {
	SmoothingWindow int `yaml:"smoothing_window"` // trailing weather samples averaged
}

// ArchiveConfig drives the circuit breaker in front of the archive
type ArchiveConfig struct {
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

type OpsConfig struct {
	Addr string `yaml:"addr"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Default returns a configuration with every field set
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Engine: EngineConfig{SmoothingWindow: 1},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			RequestStream: "aqi_requests",
			ResultStream:  "aqi_assessments",
			Group:         "aqi_explainers",
			Consumer:      "explainer-1",
			BatchSize:     10,
			Block:         5 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          defaultDSN,
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Archive: ArchiveConfig{
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Ops:    OpsConfig{Addr: ":8080"},
		Worker: WorkerConfig{Concurrency: 4},
	}
}

// Load reads configPath over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Ops.Addr = getEnv("OPS_ADDR", c.Ops.Addr)
	c.Redis.applyEnv()
	c.Database.applyEnv()
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func (c *Config) validate() error {
	if !logLevels[c.Log.Level] {
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Engine.SmoothingWindow < 1 {
		return fmt.Errorf("engine.smoothing_window must be at least 1")
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn cannot be empty when the archive is enabled")
	}
	if c.Archive.BreakerMaxFailures < 1 {
		return fmt.Errorf("archive.breaker_max_failures must be at least 1")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	return nil
}
