package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	RequestStream string        `yaml:"request_stream"`
	ResultStream  string        `yaml:"result_stream"`
	Group         string        `yaml:"group"`
	Consumer      string        `yaml:"consumer"`
	BatchSize     int64         `yaml:"batch_size"`
	Block         time.Duration `yaml:"block"`
}

func (r *RedisConfig) applyEnv() {
	r.Addr = getEnv("REDIS_ADDR", r.Addr)
	r.Password = getEnv("REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("REDIS_DB", r.DB)
	r.RequestStream = getEnv("REDIS_REQUEST_STREAM", r.RequestStream)
	r.ResultStream = getEnv("REDIS_RESULT_STREAM", r.ResultStream)
}

func (r *RedisConfig) validate() error {
	if r.RequestStream == "" || r.ResultStream == "" {
		return fmt.Errorf("redis.request_stream and redis.result_stream cannot be empty")
	}
	if r.RequestStream == r.ResultStream {
		return fmt.Errorf("redis.request_stream and redis.result_stream must differ")
	}
	if r.Group == "" || r.Consumer == "" {
		return fmt.Errorf("redis.group and redis.consumer cannot be empty")
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("redis.batch_size must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
