// Package config defines the server configuration: where to listen, where
// the database and keys files live, and how the reservation sweeper runs.
package config

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	Log     LogConfig     `yaml:"log"`
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Sweeper.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// ServerConfig holds the listen configuration. When UnixSocket is set the
// server listens there in addition to the TCP address.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	UnixSocket string `yaml:"unix_socket"`
}

// Address returns the TCP listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds the API keyring location. An empty KeysFile falls back
// to the INTERLOCK_KEYS_FILE environment variable, then the default path;
// a missing file is bootstrapped with a dev key on first start.
type AuthConfig struct {
	KeysFile string `yaml:"keys_file"`
}

// SweeperConfig controls the background purge of dead reservations. Grace
// is how long a reservation owner may sit idle before its expired claims
// are eligible for the sweep. Both values use time.ParseDuration syntax.
type SweeperConfig struct {
	Interval string `yaml:"interval"`
	Grace    string `yaml:"grace"`
}

// Validate validates the sweeper configuration.
func (c *SweeperConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.By(validDuration)),
		validation.Field(&c.Grace, validation.Required, validation.By(validDuration)),
	)
}

func validDuration(value any) error {
	s, _ := value.(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if d < time.Second {
		return fmt.Errorf("duration %q is below 1s", s)
	}
	return nil
}

// IntervalDuration returns the parsed sweep interval. Call after Validate.
func (c *SweeperConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

// GraceDuration returns the parsed owner idle grace period.
func (c *SweeperConfig) GraceDuration() time.Duration {
	d, _ := time.ParseDuration(c.Grace)
	return d
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level slog.Level `yaml:"level"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return nil
}

// NewDefaultConfig returns a Config with development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7338,
		},
		Storage: StorageConfig{
			Path: "./interlock.db",
		},
		Sweeper: SweeperConfig{
			Interval: "5m",
			Grace:    "30m",
		},
		Log: LogConfig{
			Level: slog.LevelInfo,
		},
	}
}
