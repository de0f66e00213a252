// Package config loads jetstream's per-connection configuration from a
// TOML file, applying §6's default table to anything left unset.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the recognized option set from §6's Caller API table.
type Config struct {
	SessionTimeoutMillis     int64 `toml:"session_timeout_ms"`
	HeartbeatIntervalMillis  int64 `toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutCount    int   `toml:"heartbeat_timeout_count"`
	MaxStreams               int   `toml:"max_streams"`
	RateLimitMessagesPerSec  int   `toml:"rate_limit_messages"`
	RateLimitBytesPerSec     int64 `toml:"rate_limit_bytes"`
	PoolCapacity             int   `toml:"pool_capacity"`
	PoolMaxPacketSize        int   `toml:"pool_max_packet_size"`
	AckBatchSize             int   `toml:"ack_batch_size"`
	AckBatchTimeoutMillis    int   `toml:"ack_batch_timeout_ms"`
	CoalescingWindowMillis   int   `toml:"coalescing_window_ms"`
	EnableHeaderCompression  bool  `toml:"enable_header_compression"`
	PathMTU                  int   `toml:"path_mtu"`

	// EnableTicketResumption turns on server-side 0-RTT ticket issuance
	// and import (§4.4, §9). Off by default: a listener that never sets
	// this never generates a ticket-sealing key and never attempts to
	// honor a ClientHello.Ticket, so behavior for existing callers is
	// unchanged unless they opt in.
	EnableTicketResumption bool  `toml:"enable_ticket_resumption"`
	TicketLifetimeSeconds  int64 `toml:"ticket_lifetime_s"`
}

// defaults mirrors §6's config table verbatim.
func defaults() Config {
	return Config{
		SessionTimeoutMillis:    30_000,
		HeartbeatIntervalMillis: 5_000,
		HeartbeatTimeoutCount:   3,
		MaxStreams:              100,
		RateLimitMessagesPerSec: 100,
		RateLimitBytesPerSec:    1 << 20,
		PoolCapacity:            100,
		PoolMaxPacketSize:       64 * 1024,
		AckBatchSize:            10,
		AckBatchTimeoutMillis:   10,
		CoalescingWindowMillis:  0,
		EnableHeaderCompression: true,
		PathMTU:                 1500,
		TicketLifetimeSeconds:   3600,
	}
}

// New returns the default Config.
func New() Config {
	return defaults()
}

// Load reads a TOML file at path and fills in every option the file
// leaves unset from defaults().
func Load(path string) (Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// withDefaults clamps zero-valued fields back to their spec default,
// mirroring the teacher's Config.FixupAndValidate convention elsewhere
// in the corpus, generalized here for a TOML-sourced struct where a
// missing key decodes to the Go zero value. Boolean options, and
// CoalescingWindowMillis (whose default is 0), are left as they are.
func (c Config) withDefaults() Config {
	d := defaults()
	if c.SessionTimeoutMillis == 0 {
		c.SessionTimeoutMillis = d.SessionTimeoutMillis
	}
	if c.HeartbeatIntervalMillis == 0 {
		c.HeartbeatIntervalMillis = d.HeartbeatIntervalMillis
	}
	if c.HeartbeatTimeoutCount == 0 {
		c.HeartbeatTimeoutCount = d.HeartbeatTimeoutCount
	}
	if c.MaxStreams == 0 {
		c.MaxStreams = d.MaxStreams
	}
	if c.RateLimitMessagesPerSec == 0 {
		c.RateLimitMessagesPerSec = d.RateLimitMessagesPerSec
	}
	if c.RateLimitBytesPerSec == 0 {
		c.RateLimitBytesPerSec = d.RateLimitBytesPerSec
	}
	if c.PoolCapacity == 0 {
		c.PoolCapacity = d.PoolCapacity
	}
	if c.PoolMaxPacketSize == 0 {
		c.PoolMaxPacketSize = d.PoolMaxPacketSize
	}
	if c.AckBatchSize == 0 {
		c.AckBatchSize = d.AckBatchSize
	}
	if c.AckBatchTimeoutMillis == 0 {
		c.AckBatchTimeoutMillis = d.AckBatchTimeoutMillis
	}
	if c.PathMTU == 0 {
		c.PathMTU = d.PathMTU
	}
	if c.TicketLifetimeSeconds == 0 {
		c.TicketLifetimeSeconds = d.TicketLifetimeSeconds
	}
	return c
}

func (c Config) TicketLifetime() time.Duration {
	return time.Duration(c.TicketLifetimeSeconds) * time.Second
}

func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMillis) * time.Millisecond
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMillis) * time.Millisecond
}

func (c Config) AckBatchTimeout() time.Duration {
	return time.Duration(c.AckBatchTimeoutMillis) * time.Millisecond
}
