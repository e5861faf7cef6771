package config

import (
	"fmt"
	"time"

	"github.com/muurk/msrcap/internal/capture"
	"github.com/muurk/msrcap/internal/server"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config file schema version.
const CurrentVersion = 1

// File represents the entire configuration file.
type File struct {
	Version int       `yaml:"version"`
	Server  *Settings `yaml:"server"`
}

// Settings holds the listener and capture settings.
type Settings struct {
	Host           string   `yaml:"host,omitempty"`    // empty = all interfaces
	Port           int      `yaml:"port"`              // TCP port to capture on
	LogFile        string   `yaml:"log_file"`          // Capture log path
	SyncWrites     bool     `yaml:"sync_writes"`       // fsync after every record
	MaxConnections int      `yaml:"max_connections"`   // Admission ceiling
	IdleTimeout    Duration `yaml:"idle_timeout"`      // Drain a session after this much silence
	MaxLifetime    Duration `yaml:"max_lifetime"`      // Close a session after this long regardless
	DrainTimeout   Duration `yaml:"drain_timeout"`     // Bound on a graceful close
	RunFor         Duration `yaml:"run_for,omitempty"` // Stop the server after this long (0 = never)
	LogLevel       string   `yaml:"log_level,omitempty"`
	Advertise      bool     `yaml:"advertise"` // Announce the listener over mDNS
}

// Duration is a time.Duration that reads and writes as "800s", "20m" etc.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Port:           server.DefaultPort,
		LogFile:        capture.DefaultLogFile,
		MaxConnections: server.DefaultMaxConnections,
		IdleTimeout:    Duration(server.DefaultIdleTimeout),
		MaxLifetime:    Duration(server.DefaultMaxLifetime),
		DrainTimeout:   Duration(server.DefaultDrainTimeout),
	}
}

// NewFile creates a new File with default values.
func NewFile() *File {
	return &File{
		Version: CurrentVersion,
		Server:  DefaultSettings(),
	}
}

// Validate reports the first setting that cannot be used.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", s.Port)
	}
	if s.LogFile == "" {
		return fmt.Errorf("log_file must not be empty")
	}
	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", s.MaxConnections)
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if s.MaxLifetime <= 0 {
		return fmt.Errorf("max_lifetime must be positive")
	}
	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive")
	}
	if s.MaxLifetime < s.IdleTimeout {
		return fmt.Errorf("max_lifetime (%s) must not be shorter than idle_timeout (%s)",
			s.MaxLifetime.Std(), s.IdleTimeout.Std())
	}
	if s.RunFor < 0 {
		return fmt.Errorf("run_for must not be negative")
	}
	return nil
}

// ServerConfig converts the settings into a server configuration.
func (s *Settings) ServerConfig() *server.Config {
	return &server.Config{
		Host:           s.Host,
		Port:           s.Port,
		LogFile:        s.LogFile,
		SyncWrites:     s.SyncWrites,
		MaxConnections: s.MaxConnections,
		IdleTimeout:    s.IdleTimeout.Std(),
		MaxLifetime:    s.MaxLifetime.Std(),
		DrainTimeout:   s.DrainTimeout.Std(),
		RunFor:         s.RunFor.Std(),
	}
}
