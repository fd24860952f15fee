package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Idle detection configuration
	Idle IdleConfig

	// Recorder configuration
	Recorder RecorderConfig

	// Daemon configuration
	Daemon DaemonConfig

	// Report configuration
	Report ReportConfig

	// Web server configuration
	Web WebConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string // Path to SQLite database file
}

// IdleConfig holds idle detection behavior configuration
type IdleConfig struct {
	TrackInput      bool          // Whether attention is gated on recent user input
	PollInterval    time.Duration // How often to sample the input idle time
	MinPollInterval time.Duration // Minimum allowed poll interval
	MaxPollInterval time.Duration // Maximum allowed poll interval
	Threshold       time.Duration // Time without input before considering user idle
}

// RecorderConfig holds visit recording configuration
type RecorderConfig struct {
	RecordPrivate bool // Whether visits in private windows are persisted
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
}

// ReportConfig holds report generation configuration
type ReportConfig struct {
	TimeZone string
}

// WebConfig holds web server configuration
type WebConfig struct {
	Host string // Host to bind web server to
	Port int    // Port for web server
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/pagewatch/pagewatch.db
		},
		Idle: IdleConfig{
			TrackInput:      true,
			PollInterval:    5 * time.Second,
			MinPollInterval: 1 * time.Second,
			MaxPollInterval: 60 * time.Second,
			Threshold:       120 * time.Second, // 2 minutes idle threshold
		},
		Recorder: RecorderConfig{
			RecordPrivate: false, // Private windows stay off the record by default
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/pagewatch-%d.pid", os.Getuid()),
		},
		Report: ReportConfig{
			TimeZone: "Local",
		},
		Web: WebConfig{
			Host: "localhost",
			Port: 8090,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate idle detection intervals
	if c.Idle.PollInterval < c.Idle.MinPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be less than minimum (%v)",
			c.Idle.PollInterval, c.Idle.MinPollInterval)
	}

	if c.Idle.PollInterval > c.Idle.MaxPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be greater than maximum (%v)",
			c.Idle.PollInterval, c.Idle.MaxPollInterval)
	}

	if c.Idle.Threshold <= 0 {
		return fmt.Errorf("idle threshold must be positive")
	}

	// Validate web config
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.Web.Port)
	}

	if c.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}

	// Validate daemon config
	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	return nil
}

// SetPollInterval sets the idle poll interval with validation
func (c *Config) SetPollInterval(interval time.Duration) error {
	if interval < c.Idle.MinPollInterval {
		return fmt.Errorf("poll interval cannot be less than %v", c.Idle.MinPollInterval)
	}
	if interval > c.Idle.MaxPollInterval {
		return fmt.Errorf("poll interval cannot be greater than %v", c.Idle.MaxPollInterval)
	}
	c.Idle.PollInterval = interval
	return nil
}

// SetWebPort sets the web server port with validation
func (c *Config) SetWebPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	c.Web.Port = port
	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
  Idle:
    Track Input: %v
    Poll Interval: %v
    Min Interval: %v
    Max Interval: %v
    Threshold: %v
  Recorder:
    Record Private: %v
  Daemon:
    PID File: %s
  Report:
    Time Zone: %s
  Web:
    Host: %s
    Port: %d`,
		c.Database.Path,
		c.Idle.TrackInput,
		c.Idle.PollInterval,
		c.Idle.MinPollInterval,
		c.Idle.MaxPollInterval,
		c.Idle.Threshold,
		c.Recorder.RecordPrivate,
		c.Daemon.PIDFile,
		c.Report.TimeZone,
		c.Web.Host,
		c.Web.Port,
	)
}
