// Package config reads the relay's environment configuration. Secrets and
// model selection live in SSM; only wiring knobs come from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHistoryLimit    = 20
	defaultRetryAttempts   = 3
	defaultRetryDelay      = time.Second
	defaultTimezone        = "America/Los_Angeles"
	defaultGraphAPIVersion = "v22.0"
)

// Config is the process configuration, read once at cold start.
type Config struct {
	StateTable      string
	ParamPrefix     string
	NotionBlockID   string
	VectorStoreID   string
	HistoryLimit    int
	RetryAttempts   int
	RetryDelay      time.Duration
	Timezone        string
	GraphAPIVersion string
	LogLevel        slog.Level
}

// Load builds a Config from lookup (os.LookupEnv in production).
func Load(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		StateTable:      get("STATE_TABLE"),
		ParamPrefix:     strings.TrimRight(get("PARAM_PREFIX"), "/"),
		NotionBlockID:   get("NOTION_BLOCK_ID"),
		VectorStoreID:   get("VECTOR_STORE_ID"),
		HistoryLimit:    envInt(get("HISTORY_LIMIT"), defaultHistoryLimit),
		RetryAttempts:   envInt(get("RETRY_ATTEMPTS"), defaultRetryAttempts),
		RetryDelay:      time.Duration(envInt(get("RETRY_DELAY_MS"), int(defaultRetryDelay/time.Millisecond))) * time.Millisecond,
		Timezone:        orDefault(get("TIMEZONE"), defaultTimezone),
		GraphAPIVersion: orDefault(get("GRAPH_API_VERSION"), defaultGraphAPIVersion),
	}

	var missing []string
	if cfg.StateTable == "" {
		missing = append(missing, "STATE_TABLE")
	}
	if cfg.ParamPrefix == "" {
		missing = append(missing, "PARAM_PREFIX")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: required environment variables not set: %s", strings.Join(missing, ", "))
	}

	level, err := ParseLogLevel(get("LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level
	return cfg, nil
}

// ParseLogLevel converts a case-insensitive level name to an slog.Level.
// Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("config: unknown log level " + strconv.Quote(s))
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// envInt parses a positive integer, returning def for empty or invalid input.
func envInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
