package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"

	"github.com/rendis/graphcompose/internal/scheduler"
)

// Config holds CLI configuration.
// Priority: env vars > settings.json > defaults. Subcommand flags such as
// -db and -interval override the loaded value for that invocation only.
type Config struct {
	DBPath    string `json:"db_path"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	// ScheduleInterval is a number of seconds or a duration string.
	ScheduleInterval any `json:"schedule_interval"`
}

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(graphcomposeDir(), "graphcompose.db"),
		LogLevel:         "info",
		LogFormat:        "text",
		ScheduleInterval: scheduler.DefaultInterval.String(),
	}
}

func graphcomposeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".graphcompose"
	}
	return filepath.Join(home, ".graphcompose")
}

func settingsPath() string {
	return filepath.Join(graphcomposeDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("GRAPHCOMPOSE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("GRAPHCOMPOSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("GRAPHCOMPOSE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("GRAPHCOMPOSE_SCHEDULE_INTERVAL"); v != "" {
		cfg.ScheduleInterval = v
	}

	return cfg
}

// interval parses ScheduleInterval, falling back to the scheduler default.
// Bare numbers are seconds.
func (c Config) interval() time.Duration {
	if n, err := cast.ToIntE(c.ScheduleInterval); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	d, err := cast.ToDurationE(c.ScheduleInterval)
	if err != nil || d <= 0 {
		return scheduler.DefaultInterval
	}
	return d
}
