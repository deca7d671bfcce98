package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database Database
	Logging  Logging
	Metrics  Metrics
	Sweep    Sweep
}

type Database struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	MonitorInterval time.Duration
}

type Logging struct {
	Level      string
	Format     string
	Output     string
	EnableFile bool
	FilePath   string
}

type Metrics struct {
	Enabled bool
	Host    string
	Port    int
}

// Sweep controls the periodic expiration pass over tracked principals.
type Sweep struct {
	Interval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: Database{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "permd"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 10*time.Minute),
			MonitorInterval: getEnvDuration("DB_MONITOR_INTERVAL", 5*time.Minute),
		},
		Logging: Logging{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			EnableFile: getEnvBool("LOG_ENABLE_FILE", false),
			FilePath:   getEnv("LOG_FILE_PATH", "/var/log/permd/app.log"),
		},
		Metrics: Metrics{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Host:    getEnv("METRICS_HOST", "0.0.0.0"),
			Port:    getEnvInt("METRICS_PORT", 9100),
		},
		Sweep: Sweep{
			Interval: getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}
