package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default values
func LoadFromEnv(cfg *Config) {
	// Database configuration
	if dbPath := os.Getenv("PAGEWATCH_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Idle detection configuration
	if trackInput := os.Getenv("PAGEWATCH_TRACK_INPUT"); trackInput != "" {
		if val, err := strconv.ParseBool(trackInput); err == nil {
			cfg.Idle.TrackInput = val
		}
	}

	if pollInterval := os.Getenv("PAGEWATCH_IDLE_POLL_INTERVAL"); pollInterval != "" {
		if seconds, err := strconv.Atoi(pollInterval); err == nil && seconds > 0 {
			interval := time.Duration(seconds) * time.Second
			if interval >= cfg.Idle.MinPollInterval && interval <= cfg.Idle.MaxPollInterval {
				cfg.Idle.PollInterval = interval
			}
		}
	}

	if idleThreshold := os.Getenv("PAGEWATCH_IDLE_THRESHOLD"); idleThreshold != "" {
		if seconds, err := strconv.Atoi(idleThreshold); err == nil && seconds > 0 {
			cfg.Idle.Threshold = time.Duration(seconds) * time.Second
		}
	}

	// Recorder configuration
	if recordPrivate := os.Getenv("PAGEWATCH_RECORD_PRIVATE"); recordPrivate != "" {
		if val, err := strconv.ParseBool(recordPrivate); err == nil {
			cfg.Recorder.RecordPrivate = val
		}
	}

	// Daemon configuration
	if pidFile := os.Getenv("PAGEWATCH_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	// Report configuration
	if timeZone := os.Getenv("PAGEWATCH_TIMEZONE"); timeZone != "" {
		cfg.Report.TimeZone = timeZone
	}

	// Web configuration
	if webHost := os.Getenv("PAGEWATCH_WEB_HOST"); webHost != "" {
		cfg.Web.Host = webHost
	}

	if webPort := os.Getenv("PAGEWATCH_WEB_PORT"); webPort != "" {
		if port, err := strconv.Atoi(webPort); err == nil && port > 0 && port <= 65535 {
			cfg.Web.Port = port
		}
	}
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
