package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"stagelink/engine/internal/telemetry"
)

// Settings is the resolved server configuration: file values layered
// over defaults, then environment overrides on top.
type Settings struct {
	Addr            string
	TickRate        int
	CatchupMaxTicks int

	// Behavior names the startup simulation behavior. CatalogPath, when
	// set, points at an authored catalog entry that overrides it.
	Behavior    string
	CatalogPath string

	PlayersPath string
	PickupsPath string

	SyncInterval     time.Duration
	HeartbeatTimeout time.Duration

	LogSinks      []string
	LogBufferSize int
	LogJSONPath   string
}

// DefaultSettings returns the configuration used when no file and no
// environment overrides are present.
func DefaultSettings() Settings {
	return Settings{
		Addr:             ":8080",
		TickRate:         20,
		CatchupMaxTicks:  4,
		Behavior:         "topDown",
		PlayersPath:      "players",
		PickupsPath:      "arena.pickups",
		SyncInterval:     50 * time.Millisecond,
		HeartbeatTimeout: 6 * time.Second,
		LogSinks:         []string{"console"},
		LogBufferSize:    512,
	}
}

type fileSettings struct {
	Addr               string   `toml:"addr"`
	TickRate           int      `toml:"tick_rate"`
	CatchupMaxTicks    int      `toml:"catchup_max_ticks"`
	Behavior           string   `toml:"behavior"`
	CatalogPath        string   `toml:"catalog"`
	PlayersPath        string   `toml:"players_path"`
	PickupsPath        string   `toml:"pickups_path"`
	SyncIntervalMS     int64    `toml:"sync_interval_ms"`
	HeartbeatTimeout   string   `toml:"heartbeat_timeout"`
	HeartbeatTimeoutMS int64    `toml:"heartbeat_timeout_ms"`
	LogSinks           []string `toml:"log_sinks"`
	LogBufferSize      int      `toml:"log_buffer_size"`
	LogJSONPath        string   `toml:"log_json_path"`
}

// LoadSettings reads a TOML file over the defaults. Only keys actually
// present in the file override anything.
func LoadSettings(path string) (Settings, error) {
	cfg := DefaultSettings()

	var raw fileSettings
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	if meta.IsDefined("addr") && strings.TrimSpace(raw.Addr) != "" {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("tick_rate") && raw.TickRate > 0 {
		cfg.TickRate = raw.TickRate
	}
	if meta.IsDefined("catchup_max_ticks") && raw.CatchupMaxTicks > 0 {
		cfg.CatchupMaxTicks = raw.CatchupMaxTicks
	}
	if meta.IsDefined("behavior") {
		cfg.Behavior = strings.TrimSpace(raw.Behavior)
	}
	if meta.IsDefined("catalog") {
		cfg.CatalogPath = strings.TrimSpace(raw.CatalogPath)
	}
	if meta.IsDefined("players_path") && strings.TrimSpace(raw.PlayersPath) != "" {
		cfg.PlayersPath = strings.TrimSpace(raw.PlayersPath)
	}
	if meta.IsDefined("pickups_path") {
		cfg.PickupsPath = strings.TrimSpace(raw.PickupsPath)
	}
	if meta.IsDefined("sync_interval_ms") && raw.SyncIntervalMS > 0 {
		cfg.SyncInterval = time.Duration(raw.SyncIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("heartbeat_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatTimeout))
		if err != nil {
			return Settings{}, fmt.Errorf("parse heartbeat_timeout: %w", err)
		}
		cfg.HeartbeatTimeout = d
	}
	if meta.IsDefined("heartbeat_timeout_ms") && raw.HeartbeatTimeoutMS > 0 {
		cfg.HeartbeatTimeout = time.Duration(raw.HeartbeatTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("log_sinks") {
		cfg.LogSinks = normalizeSinks(raw.LogSinks)
	}
	if meta.IsDefined("log_buffer_size") && raw.LogBufferSize > 0 {
		cfg.LogBufferSize = raw.LogBufferSize
	}
	if meta.IsDefined("log_json_path") {
		cfg.LogJSONPath = strings.TrimSpace(raw.LogJSONPath)
	}

	return cfg, nil
}

func normalizeSinks(in []string) []string {
	out := make([]string, 0, len(in))
	for _, sink := range in {
		name := strings.TrimSpace(sink)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

// ApplyEnv layers environment variables over settings. A .env file is
// loaded first when present; a missing one is not an error.
func ApplyEnv(cfg Settings, logger telemetry.Logger) Settings {
	_ = godotenv.Load()

	if raw := os.Getenv("STAGELINK_ADDR"); raw != "" {
		cfg.Addr = raw
	}
	if raw := os.Getenv("STAGELINK_TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.TickRate = value
		} else if logger != nil {
			logger.Printf("invalid STAGELINK_TICK_RATE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("STAGELINK_BEHAVIOR"); raw != "" {
		cfg.Behavior = raw
	}
	if raw := os.Getenv("STAGELINK_CATALOG"); raw != "" {
		cfg.CatalogPath = raw
	}
	if raw := os.Getenv("STAGELINK_LOG_JSON"); raw != "" {
		cfg.LogJSONPath = raw
		if !hasSinkName(cfg.LogSinks, "json") {
			cfg.LogSinks = append(cfg.LogSinks, "json")
		}
	}
	return cfg
}

func hasSinkName(sinks []string, name string) bool {
	for _, sink := range sinks {
		if sink == name {
			return true
		}
	}
	return false
}
