// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minPollIntervalMS = 250

var defaultPortCandidates = []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}

// Config holds all configuration for the window_titler daemon.
type Config struct {
	// CDP connection settings
	CDPAddress     string
	CDPPort        int
	PollIntervalMS int

	// Optional self-launched browser
	LaunchBrowser bool
	ProfileDir    string
	BrowserPath   string

	// Control API
	BindAddr         string
	PortAutoFallback bool
	PortCandidates   []string

	// Logging
	LogLevel string
	LogFile  string

	// Storage
	SettingsFile  string
	SessionDB     string
	SessionPollMS int

	// Event journal; disabled when JournalDir is empty.
	JournalDir       string
	JournalMaxSizeMB int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("TITLER_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("TITLER_CDP_PORT", 9222),
		PollIntervalMS:   getEnvIntOrDefault("TITLER_POLL_INTERVAL_MS", 1000),
		LaunchBrowser:    getEnvBoolOrDefault("TITLER_LAUNCH_BROWSER", false),
		ProfileDir:       getEnvOrDefault("TITLER_PROFILE_DIR", "./browser_profile"),
		BrowserPath:      getEnvOrDefault("TITLER_BROWSER_PATH", ""),
		BindAddr:         getEnvOrDefault("TITLER_BIND_ADDR", "127.0.0.1:8190"),
		PortAutoFallback: getEnvBoolOrDefault("TITLER_PORT_AUTO_FALLBACK", true),
		PortCandidates:   getEnvListOrDefault("TITLER_PORT_CANDIDATES", defaultPortCandidates),
		LogLevel:         strings.ToLower(getEnvOrDefault("TITLER_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("TITLER_LOG_FILE", "logs/window_titler.log"),
		SettingsFile:     getEnvOrDefault("TITLER_SETTINGS_FILE", "./config/settings.yaml"),
		SessionDB:        getEnvOrDefault("TITLER_SESSION_DB", "./data/session.sqlite3"),
		SessionPollMS:    getEnvIntOrDefault("TITLER_SESSION_POLL_MS", 2000),
		JournalDir:       getEnvOrDefault("TITLER_JOURNAL_DIR", ""),
		JournalMaxSizeMB: getEnvIntOrDefault("TITLER_JOURNAL_MAX_SIZE_MB", 50),
	}
	if cfg.PollIntervalMS < minPollIntervalMS {
		cfg.PollIntervalMS = minPollIntervalMS
	}
	if cfg.SessionPollMS < minPollIntervalMS {
		cfg.SessionPollMS = minPollIntervalMS
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("TITLER_CDP_PORT out of range: %d", cfg.CDPPort)
	}
	return cfg, nil
}

// CDPURL returns the DevTools HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) SessionPollInterval() time.Duration {
	return time.Duration(c.SessionPollMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
