package seestar

import (
	"fmt"
	"strconv"
	"time"
)

// Config carries every tunable the SEESTAR_* environment-variable layer
// exposes. The core only ever accepts this typed struct; parsing
// environment variables into it is a separate, optional step
// (LoadConfigFromEnv) so the library itself never reads the environment.
type Config struct {
	ConnectTimeout  time.Duration
	ReadIdleTimeout time.Duration
	CommandTimeout  time.Duration

	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts int // 0 = infinite

	WriteQueueSize      int
	WriteQueueTimeout   time.Duration
	SubscriberQueueSize int

	MaxFrameSize int // bytes; 0 = DefaultMaxFrameSize

	// WaitForReconnect, when true, makes Send block and retry once while
	// the transport is Reconnecting instead of failing fast.
	WaitForReconnect     bool
	ReconnectWaitTimeout time.Duration
}

// DefaultMaxFrameSize is the binary protocol's default frame size ceiling (32 MiB).
const DefaultMaxFrameSize = 32 * 1024 * 1024

// DefaultConfig returns conservative defaults suitable for a home network.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		ReadIdleTimeout: 30 * time.Second,
		CommandTimeout:  10 * time.Second,

		ReconnectBase:        500 * time.Millisecond,
		ReconnectCap:         10 * time.Second,
		ReconnectMaxAttempts: 0,

		WriteQueueSize:      256,
		WriteQueueTimeout:   5 * time.Second,
		SubscriberQueueSize: 64,

		MaxFrameSize: DefaultMaxFrameSize,

		WaitForReconnect:     false,
		ReconnectWaitTimeout: 30 * time.Second,
	}
}

// envLookup matches os.LookupEnv's signature so tests can inject a fake
// environment without touching process state.
type envLookup func(key string) (string, bool)

// LoadConfigFromEnv starts from DefaultConfig and overrides fields named
// by the SEESTAR_* variables that are present in lookup.
func LoadConfigFromEnv(lookup envLookup) (Config, error) {
	cfg := DefaultConfig()

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SEESTAR_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"SEESTAR_READ_IDLE_TIMEOUT", &cfg.ReadIdleTimeout},
		{"SEESTAR_COMMAND_TIMEOUT", &cfg.CommandTimeout},
		{"SEESTAR_RECONNECT_BASE", &cfg.ReconnectBase},
		{"SEESTAR_RECONNECT_CAP", &cfg.ReconnectCap},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("seestar: parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SEESTAR_RECONNECT_MAX_ATTEMPTS", &cfg.ReconnectMaxAttempts},
		{"SEESTAR_WRITE_QUEUE_SIZE", &cfg.WriteQueueSize},
		{"SEESTAR_SUBSCRIBER_QUEUE_SIZE", &cfg.SubscriberQueueSize},
	}
	for _, i := range ints {
		v, ok := lookup(i.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("seestar: parse %s: %w", i.key, err)
		}
		*i.dst = parsed
	}

	return cfg, nil
}
