// Package config provides Viper-based configuration loading for the room
// server.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cyberinferno/go-rooms/packet"
)

// Port bounds accepted for listeners. 0 disables a listener.
const (
	MinPort = 1024
	MaxPort = 65535
)

// ListenersConfig holds the bind host and one port per transport kind.
type ListenersConfig struct {
	// Host is the bind address shared by every listener.
	Host string `mapstructure:"host"`
	// Managed is the managed-socket (event-multiplexed websocket) port.
	Managed int `mapstructure:"managed"`
	// Framed is the framed websocket port.
	Framed int `mapstructure:"framed"`
	// Raw is the raw TCP stream port.
	Raw int `mapstructure:"raw"`
}

// Addr returns the "host:port" listen address for port.
func (l ListenersConfig) Addr(port int) string {
	return net.JoinHostPort(l.Host, strconv.Itoa(port))
}

// RoomsConfig holds room sizing.
type RoomsConfig struct {
	// Capacity is the number of players that fills a room.
	Capacity int `mapstructure:"capacity"`
	// Backfill lets a later player take the slot of one who left.
	Backfill bool `mapstructure:"backfill"`
}

// TransportConfig holds settings shared by the transport adapters.
type TransportConfig struct {
	// Framing is the raw-stream framing: "newline" or "length".
	Framing string `mapstructure:"framing"`
	// SendQueue is the outbound queue length per session.
	SendQueue int `mapstructure:"send_queue"`
	// MaxPayload caps one inbound message in bytes.
	MaxPayload int `mapstructure:"max_payload"`
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the managed transport heartbeat interval.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PingTimeout is how long the managed transport waits for a pong.
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// IdentityConfig holds player identity settings.
type IdentityConfig struct {
	// Quarantine is how long a released identity cannot be reissued.
	Quarantine time.Duration `mapstructure:"quarantine"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Dir, when set, adds a daily-rotated log file in that directory.
	Dir string `mapstructure:"dir"`
}

// Config is the top-level application configuration.
type Config struct {
	Listeners ListenersConfig `mapstructure:"listeners"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Transport TransportConfig `mapstructure:"transport"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ParsedFraming returns the raw-stream framing. Validate guarantees the
// name parses.
func (t TransportConfig) ParsedFraming() packet.Framing {
	f, _ := packet.ParseFraming(t.Framing)
	return f
}

// Validate checks all configuration invariants.
//
// Returns:
//   - nil if the configuration is valid, or one error describing every violation
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateListeners(c.Listeners),
		validateRooms(c.Rooms),
		validateTransport(c.Transport),
		validateIdentity(c.Identity),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validateListeners(l ListenersConfig) error {
	var errs []string
	ports := []struct {
		name string
		port int
	}{{"managed", l.Managed}, {"framed", l.Framed}, {"raw", l.Raw}}

	enabled := 0
	seen := map[int]string{}
	for _, p := range ports {
		if p.port == 0 {
			continue
		}

		enabled++
		if p.port < MinPort || p.port > MaxPort {
			errs = append(errs, fmt.Sprintf("listeners.%s must be 0 or %d-%d, got %d", p.name, MinPort, MaxPort, p.port))
			continue
		}

		if other, dup := seen[p.port]; dup {
			errs = append(errs, fmt.Sprintf("listeners.%s reuses port %d of listeners.%s", p.name, p.port, other))
		}
		seen[p.port] = p.name
	}

	if enabled == 0 {
		errs = append(errs, "at least one of listeners.managed, listeners.framed, listeners.raw must be set")
	}

	return joined(errs)
}

func validateRooms(r RoomsConfig) error {
	if r.Capacity < 1 {
		return fmt.Errorf("rooms.capacity must be >= 1, got %d", r.Capacity)
	}

	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if _, err := packet.ParseFraming(t.Framing); err != nil {
		errs = append(errs, fmt.Sprintf("transport.framing must be one of [newline, length], got %q", t.Framing))
	}
	if t.SendQueue < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_queue must be >= 1, got %d", t.SendQueue))
	}
	if t.MaxPayload < 1 || t.MaxPayload > packet.MaxFrameSize {
		errs = append(errs, fmt.Sprintf("transport.max_payload must be 1-%d, got %d", packet.MaxFrameSize, t.MaxPayload))
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "transport.write_timeout must not be negative")
	}
	if t.PingInterval <= 0 {
		errs = append(errs, "transport.ping_interval must be positive")
	}
	if t.PingTimeout <= 0 {
		errs = append(errs, "transport.ping_timeout must be positive")
	}

	return joined(errs)
}

func validateIdentity(i IdentityConfig) error {
	if i.Quarantine < 0 {
		return fmt.Errorf("identity.quarantine must not be negative")
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

func joined(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// Load reads configuration from the given YAML file, applies ROOMS_
// environment overrides and defaults, and validates the result. An empty
// path loads defaults and environment only.
//
// Returns:
//   - A valid Config or a non-nil error
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
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

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listeners.host", "0.0.0.0")
	v.SetDefault("listeners.managed", 3000)
	v.SetDefault("listeners.framed", 3001)
	v.SetDefault("listeners.raw", 3002)

	v.SetDefault("rooms.capacity", 2)
	v.SetDefault("rooms.backfill", false)

	v.SetDefault("transport.framing", "newline")
	v.SetDefault("transport.send_queue", 64)
	v.SetDefault("transport.max_payload", 1_000_000)
	v.SetDefault("transport.write_timeout", "10s")
	v.SetDefault("transport.ping_interval", "25s")
	v.SetDefault("transport.ping_timeout", "20s")

	v.SetDefault("identity.quarantine", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.dir", "")
}
