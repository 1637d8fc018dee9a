// Package config loads the server's TOML configuration file,
// overlaying only the keys the file actually defines on top of
// Default, the same meta.IsDefined overlay pattern used elsewhere in
// the corpus for service config loading.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full surface a deployment can tune: handshake timing,
// allowed origins, the advertised transport set, and the flash policy
// side-channel.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	Prefix     string `toml:"prefix"`

	HeartbeatTimeoutSeconds  int `toml:"heartbeat_timeout_seconds"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	CloseTimeoutSeconds      int `toml:"close_timeout_seconds"`

	Transports []string `toml:"transports"`

	Origins []string `toml:"origins"`

	HeaderClientIPAddressName string `toml:"header_client_ip_address_name"`
	MaxConcurrentRequests     int64  `toml:"max_concurrent_requests"`

	// AlwaysSecureWebSocketLocation forces wss:// in the Sec-WebSocket-
	// Location header this server hands pre-RFC6455 clients, even when
	// the inbound connection itself is plain HTTP (e.g. behind a TLS-
	// terminating load balancer).
	AlwaysSecureWebSocketLocation bool `toml:"always_secure_websocket_location"`

	// HeartbeatThreadpoolSize bounds the errgroup worker pool the
	// heartbeat scheduler fans each tick out across.
	HeartbeatThreadpoolSize int `toml:"heartbeat_threadpool_size"`

	FlashPolicy FlashPolicyConfig `toml:"flash_policy"`

	JSONPGzip bool `toml:"jsonp_gzip"`
}

// FlashPolicyConfig configures the raw-TCP cross-domain policy server
// the flashsocket transport requires.
type FlashPolicyConfig struct {
	Enabled    bool     `toml:"enabled"`
	ListenAddr string   `toml:"listen_addr"`
	Origins    []string `toml:"origins"`
}

// Default carries the handshake timings the wire protocol's handshake
// scenario expects: a 30s heartbeat timeout, a 20s heartbeat interval
// (comfortably under the timeout, per the invariant Load enforces
// below), and a 25s close-timeout grace window.
func Default() Config {
	return Config{
		ListenAddr:               ":8080",
		Prefix:                   "",
		HeartbeatTimeoutSeconds:  30,
		HeartbeatIntervalSeconds: 20,
		CloseTimeoutSeconds:      25,
		Transports:               []string{"websocket", "flashsocket", "xhr-polling", "jsonp-polling"},
		HeartbeatThreadpoolSize:  4,
		FlashPolicy: FlashPolicyConfig{
			Enabled:    false,
			ListenAddr: ":10843",
		},
	}
}

// rawConfig mirrors Config's TOML shape exactly, so toml.DecodeFile's
// Metadata can report which keys the file actually set.
type rawConfig struct {
	ListenAddr                    string            `toml:"listen_addr"`
	Prefix                        string            `toml:"prefix"`
	HeartbeatTimeoutSeconds       int               `toml:"heartbeat_timeout_seconds"`
	HeartbeatIntervalSeconds      int               `toml:"heartbeat_interval_seconds"`
	CloseTimeoutSeconds           int               `toml:"close_timeout_seconds"`
	Transports                    []string          `toml:"transports"`
	Origins                       []string          `toml:"origins"`
	HeaderClientIPAddressName     string            `toml:"header_client_ip_address_name"`
	MaxConcurrentRequests         int64             `toml:"max_concurrent_requests"`
	AlwaysSecureWebSocketLocation bool              `toml:"always_secure_websocket_location"`
	HeartbeatThreadpoolSize       int               `toml:"heartbeat_threadpool_size"`
	FlashPolicy                   FlashPolicyConfig `toml:"flash_policy"`
	JSONPGzip                     bool              `toml:"jsonp_gzip"`
}

// Load reads path and overlays only the keys it defines onto Default.
// A missing file is an error; an empty file yields Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw rawConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("prefix") {
		cfg.Prefix = strings.TrimRight(raw.Prefix, "/")
	}
	if meta.IsDefined("heartbeat_timeout_seconds") {
		cfg.HeartbeatTimeoutSeconds = raw.HeartbeatTimeoutSeconds
	}
	if meta.IsDefined("heartbeat_interval_seconds") {
		cfg.HeartbeatIntervalSeconds = raw.HeartbeatIntervalSeconds
	}
	if meta.IsDefined("close_timeout_seconds") {
		cfg.CloseTimeoutSeconds = raw.CloseTimeoutSeconds
	}
	if meta.IsDefined("transports") {
		cfg.Transports = raw.Transports
	}
	if meta.IsDefined("origins") {
		cfg.Origins = raw.Origins
	}
	if meta.IsDefined("header_client_ip_address_name") {
		cfg.HeaderClientIPAddressName = strings.TrimSpace(raw.HeaderClientIPAddressName)
	}
	if meta.IsDefined("max_concurrent_requests") {
		cfg.MaxConcurrentRequests = raw.MaxConcurrentRequests
	}
	if meta.IsDefined("always_secure_websocket_location") {
		cfg.AlwaysSecureWebSocketLocation = raw.AlwaysSecureWebSocketLocation
	}
	if meta.IsDefined("heartbeat_threadpool_size") {
		cfg.HeartbeatThreadpoolSize = raw.HeartbeatThreadpoolSize
	}
	if meta.IsDefined("flash_policy", "enabled") {
		cfg.FlashPolicy.Enabled = raw.FlashPolicy.Enabled
	}
	if meta.IsDefined("flash_policy", "listen_addr") {
		cfg.FlashPolicy.ListenAddr = raw.FlashPolicy.ListenAddr
	}
	if meta.IsDefined("flash_policy", "origins") {
		cfg.FlashPolicy.Origins = raw.FlashPolicy.Origins
	}
	if meta.IsDefined("jsonp_gzip") {
		cfg.JSONPGzip = raw.JSONPGzip
	}

	if cfg.HeartbeatIntervalSeconds >= cfg.HeartbeatTimeoutSeconds {
		return Config{}, fmt.Errorf(
			"config: heartbeat_interval_seconds (%d) must be less than heartbeat_timeout_seconds (%d)",
			cfg.HeartbeatIntervalSeconds, cfg.HeartbeatTimeoutSeconds)
	}
	if len(cfg.Transports) == 0 {
		return Config{}, fmt.Errorf("config: transports must not be empty")
	}

	return cfg, nil
}

// HeartbeatInterval, HeartbeatTimeout, and CloseTimeout convert the
// config's seconds fields to time.Duration for wiring into
// heartbeat.New and the dispatcher.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c Config) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutSeconds) * time.Second
}
