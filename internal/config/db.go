package config

import (
	"fmt"
	"os"
)

const defaultDSN = "aqi:aqipassword@tcp(localhost:3306)/aqiexplain?parseTime=true"

// DatabaseConfig points at the MySQL assessment archive
type DatabaseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// applyEnv prefers the DB_* variables when all of them are set, then
// DATABASE_DSN, then whatever the file said
func (d *DatabaseConfig) applyEnv() {
	d.DSN = DatabaseDSN(d.DSN)
	if os.Getenv("DATABASE_ENABLED") == "true" {
		d.Enabled = true
	}
}

// DatabaseDSN returns the connection string from the environment, or
// fallback when the environment does not define one
func DatabaseDSN(fallback string) string {
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	database := os.Getenv("DB_NAME")

	if user != "" && password != "" && host != "" && port != "" && database != "" {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", user, password, host, port, database)
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		return dsn
	}

	return fallback
}
