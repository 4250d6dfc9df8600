package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookupFrom(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"STATE_TABLE":  "users",
		"PARAM_PREFIX": "/helix/",
	}))
	require.NoError(t, err)
	require.Equal(t, "users", cfg.StateTable)
	require.Equal(t, "/helix", cfg.ParamPrefix)
	require.Equal(t, 20, cfg.HistoryLimit)
	require.Equal(t, 3, cfg.RetryAttempts)
	require.Equal(t, time.Second, cfg.RetryDelay)
	require.Equal(t, "America/Los_Angeles", cfg.Timezone)
	require.Equal(t, "v22.0", cfg.GraphAPIVersion)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Empty(t, cfg.VectorStoreID)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"STATE_TABLE":     "users",
		"PARAM_PREFIX":    "/helix",
		"NOTION_BLOCK_ID": "block-1",
		"VECTOR_STORE_ID": "vs_1",
		"HISTORY_LIMIT":   "10",
		"RETRY_ATTEMPTS":  "5",
		"RETRY_DELAY_MS":  "250",
		"TIMEZONE":        "UTC",
		"LOG_LEVEL":       "DEBUG",
	}))
	require.NoError(t, err)
	require.Equal(t, "block-1", cfg.NotionBlockID)
	require.Equal(t, "vs_1", cfg.VectorStoreID)
	require.Equal(t, 10, cfg.HistoryLimit)
	require.Equal(t, 5, cfg.RetryAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "STATE_TABLE")
	require.Contains(t, err.Error(), "PARAM_PREFIX")
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"STATE_TABLE":    "users",
		"PARAM_PREFIX":   "/helix",
		"HISTORY_LIMIT":  "lots",
		"RETRY_ATTEMPTS": "-1",
	}))
	require.NoError(t, err)
	require.Equal(t, 20, cfg.HistoryLimit)
	require.Equal(t, 3, cfg.RetryAttempts)
}

func TestLoad_BadLogLevel(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{
		"STATE_TABLE":  "users",
		"PARAM_PREFIX": "/helix",
		"LOG_LEVEL":    "loud",
	}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown log level")
}

func TestLocation_UnknownZoneFallsBackToUTC(t *testing.T) {
	require.Equal(t, time.UTC, Config{Timezone: "Mars/Olympus"}.Location())
}
