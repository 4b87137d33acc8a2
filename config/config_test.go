package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cyberinferno/go-rooms/packet"
)

func validConfig() Config {
	return Config{
		Listeners: ListenersConfig{Host: "127.0.0.1", Managed: 3000, Framed: 3001, Raw: 3002},
		Rooms:     RoomsConfig{Capacity: 2},
		Transport: TransportConfig{
			Framing:      "newline",
			SendQueue:    64,
			MaxPayload:   1 << 20,
			WriteTimeout: 10 * time.Second,
			PingInterval: 25 * time.Second,
			PingTimeout:  20 * time.Second,
		},
		Identity: IdentityConfig{Quarantine: time.Minute},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Rooms.Capacity)
	assert.Equal(t, 3002, cfg.Listeners.Raw)
	assert.Equal(t, 25*time.Second, cfg.Transport.PingInterval)
	assert.Equal(t, packet.Newline, cfg.Transport.ParsedFraming())
}

func TestListenersAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3002", validConfig().Listeners.Addr(3002))
	l := ListenersConfig{Host: "::1"}
	assert.Equal(t, "[::1]:80", l.Addr(80))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listeners:
  host: 127.0.0.1
  managed: 0
  framed: 4001
  raw: 4002
rooms:
  capacity: 4
  backfill: true
transport:
  framing: length
  ping_interval: 5s
logging:
  level: debug
  format: console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Listeners.Managed)
	assert.Equal(t, 4001, cfg.Listeners.Framed)
	assert.Equal(t, 4, cfg.Rooms.Capacity)
	assert.True(t, cfg.Rooms.Backfill)
	assert.Equal(t, packet.LengthPrefixed, cfg.Transport.ParsedFraming())
	assert.Equal(t, 5*time.Second, cfg.Transport.PingInterval)
	assert.Equal(t, 20*time.Second, cfg.Transport.PingTimeout, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROOMS_ROOMS_CAPACITY", "6")
	t.Setenv("ROOMS_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Rooms.Capacity)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms:\n  capacity: 0\nlogging:\n  level: trace\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rooms.capacity")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateListeners(t *testing.T) {
	t.Run("all disabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Listeners = ListenersConfig{Host: "0.0.0.0"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate ports", func(t *testing.T) {
		cfg := validConfig()
		cfg.Listeners.Framed = cfg.Listeners.Raw
		assert.Error(t, cfg.Validate())
	})

	t.Run("privileged port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Listeners.Raw = 80
		assert.Error(t, cfg.Validate())
	})
}

func TestValidateTransport(t *testing.T) {
	cases := map[string]func(*TransportConfig){
		"framing":       func(c *TransportConfig) { c.Framing = "crlf" },
		"send queue":    func(c *TransportConfig) { c.SendQueue = 0 },
		"max payload":   func(c *TransportConfig) { c.MaxPayload = packet.MaxFrameSize + 1 },
		"write timeout": func(c *TransportConfig) { c.WriteTimeout = -time.Second },
		"ping interval": func(c *TransportConfig) { c.PingInterval = 0 },
		"ping timeout":  func(c *TransportConfig) { c.PingTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg.Transport)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}

	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Quarantine = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestPropertyListenerPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(MinPort, MaxPort).Draw(t, "port")
		cfg := validConfig()
		cfg.Listeners = ListenersConfig{Host: "0.0.0.0", Raw: port}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidListenerPort(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, -1),
			rapid.IntRange(1, MinPort-1),
			rapid.IntRange(MaxPort+1, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Listeners.Managed = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

func TestPropertyCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(-100, 100).Draw(t, "capacity")
		cfg := validConfig()
		cfg.Rooms.Capacity = capacity
		err := cfg.Validate()
		if (capacity >= 1) != (err == nil) {
			t.Fatalf("capacity %d: unexpected validation result %v", capacity, err)
		}
	})
}
