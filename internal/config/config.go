package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// NotificationCap bounds the per-user notification list.
		NotificationCap int64 `yaml:"notification_cap"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Users struct {
		TTL string `yaml:"ttl"`
		// Seed profiles are loaded into the memory and SQLite identity stores at start.
		Seed []UserSeed `yaml:"seed"`
	} `yaml:"users"`
	Ledger struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"ledger"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

type UserSeed struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Age      *int   `yaml:"age"`
	Sex      string `yaml:"sex"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// StorageDriver picks the record store. An explicit driver wins; otherwise a
// configured Postgres URL or SQLite path selects that store, else memory.
func (c Config) StorageDriver() string {
	switch {
	case c.Storage.Driver != "":
		return c.Storage.Driver
	case c.Postgres.URL != "":
		return DriverPostgres
	case c.SQLite.Path != "":
		return DriverSQLite
	default:
		return DriverMemory
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
