// Package config provides Viper-based configuration loading for the relay and
// headless participant binaries.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings for the participation journal.
type DatabaseConfig struct {
	// Enabled turns the journal on. When false the remaining fields are not validated.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RelayConfig holds the relay server's WebSocket settings.
type RelayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Path is the HTTP path upgraded to WebSocket.
	Path string `mapstructure:"path"`
	// MaxSeats caps the number of registered participants.
	MaxSeats int `mapstructure:"max_seats"`
	// ReadLimit is the largest accepted frame in bytes.
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ClientConfig holds the headless participant's settings.
type ClientConfig struct {
	// ServerURL is the relay's ws:// or wss:// URL.
	ServerURL string `mapstructure:"server_url"`
	// Host joins with the host role instead of guest.
	Host bool `mapstructure:"host"`
	// Regist marks the participant as scene owner.
	Regist bool `mapstructure:"regist"`
	// TickHz is the update loop frequency.
	TickHz      int           `mapstructure:"tick_hz"`
	InboxSize   int           `mapstructure:"inbox_size"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// SceneFile is the YAML scene to instantiate.
	SceneFile string `mapstructure:"scene_file"`
	// ScriptDir holds puppet Lua scripts; empty disables scripting.
	ScriptDir        string `mapstructure:"script_dir"`
	InstructionLimit int    `mapstructure:"instruction_limit"`
}

// TickInterval returns the period of one update loop iteration.
//
// Precondition: TickHz must be positive.
func (c ClientConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickHz)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Client   ClientConfig   `mapstructure:"client"`
	Database DatabaseConfig `mapstructure:"database"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateClient(c.Client); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	if r.Port < 0 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("relay.port must be 0-65535, got %d", r.Port))
	}
	if !strings.HasPrefix(r.Path, "/") {
		errs = append(errs, fmt.Sprintf("relay.path must start with '/', got %q", r.Path))
	}
	if r.MaxSeats < 1 {
		errs = append(errs, fmt.Sprintf("relay.max_seats must be >= 1, got %d", r.MaxSeats))
	}
	if r.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("relay.read_limit must be >= 1, got %d", r.ReadLimit))
	}
	if r.WriteTimeout <= 0 {
		errs = append(errs, "relay.write_timeout must be positive")
	}
	if r.PongWait <= 0 {
		errs = append(errs, "relay.pong_wait must be positive")
	}
	if r.PingInterval <= 0 || r.PingInterval >= r.PongWait {
		errs = append(errs, "relay.ping_interval must be positive and shorter than relay.pong_wait")
	}
	if r.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("relay.send_buffer must be >= 1, got %d", r.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("client.server_url must be a ws:// or wss:// URL, got %q", c.ServerURL))
	}
	if c.TickHz < 1 || c.TickHz > 1000 {
		errs = append(errs, fmt.Sprintf("client.tick_hz must be 1-1000, got %d", c.TickHz))
	}
	if c.InboxSize < 1 {
		errs = append(errs, fmt.Sprintf("client.inbox_size must be >= 1, got %d", c.InboxSize))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("client.send_buffer must be >= 1, got %d", c.SendBuffer))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, "client.dial_timeout must be positive")
	}
	if c.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("client.instruction_limit must be >= 0, got %d", c.InstructionLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with VRSYNC_ prefix
	v.SetEnvPrefix("VRSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.path", "/ws")
	v.SetDefault("relay.max_seats", 16)
	v.SetDefault("relay.read_limit", 1<<20)
	v.SetDefault("relay.write_timeout", "10s")
	v.SetDefault("relay.pong_wait", "60s")
	v.SetDefault("relay.ping_interval", "25s")
	v.SetDefault("relay.send_buffer", 256)

	v.SetDefault("client.server_url", "ws://127.0.0.1:8080/ws")
	v.SetDefault("client.host", false)
	v.SetDefault("client.regist", false)
	v.SetDefault("client.tick_hz", 30)
	v.SetDefault("client.inbox_size", 256)
	v.SetDefault("client.send_buffer", 256)
	v.SetDefault("client.dial_timeout", "10s")
	v.SetDefault("client.scene_file", "content/scenes/lab.yaml")
	v.SetDefault("client.script_dir", "")
	v.SetDefault("client.instruction_limit", 100000)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "vrsync")
	v.SetDefault("database.password", "vrsync")
	v.SetDefault("database.name", "vrsync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
}
