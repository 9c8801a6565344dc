// Package config holds the daemon's size limits, rate-limit knobs, and
// bind-safety flags, loaded from environment variables over CLI-flag
// defaults. Narrowed from the teacher's env-var-over-defaults precedence
// style (internal/config/config.go, internal/config/security.go) — this
// spec has no per-agent identity concept, so only the size/rate/bind
// surface survives.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/leonletto/agentlip/internal/model"
)

// Default size limits (spec §6 "Size limits").
const (
	DefaultMaxMessageContentBytes  = 64 * 1024
	DefaultMaxAttachmentValueBytes = 16 * 1024
	DefaultMaxWSFrameBytes         = 256 * 1024
	DefaultMaxReplayBatch          = 1000
)

// Default rate limit and plugin knobs (spec §4.5, §5).
const (
	DefaultRateLimitRPS          = 50.0
	DefaultRateLimitBurst        = 100
	DefaultPluginTimeoutSeconds  = 5
	DefaultCircuitThreshold      = 3
	DefaultCircuitCooldownSecs   = 60
)

// Config is the full set of tunables the daemon needs at startup.
type Config struct {
	Host   string
	Port   int
	Unsafe bool // allow non-loopback binds (spec §4.6 bind safety)

	AuthToken string // empty means "generate one"

	MaxMessageContentBytes  int
	MaxAttachmentValueBytes int
	MaxWSFrameBytes         int
	MaxReplayBatch          int

	RateLimitRPS   float64
	RateLimitBurst int

	PluginTimeoutSeconds   int
	CircuitThreshold       int
	CircuitCooldownSeconds int

	IdleShutdownMS int

	Plugins []PluginSpec
}

// PluginSpec describes one configured derived-pipeline plugin (spec §4.5).
// It is the config-layer shape; internal/daemon converts it to
// plugin.Config when building the pipeline.
type PluginSpec struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"` // "linkifier" or "extractor"
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Default returns the spec's stated defaults.
func Default() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 0, // 0 means "daemon picks an ephemeral port"

		MaxMessageContentBytes:  DefaultMaxMessageContentBytes,
		MaxAttachmentValueBytes: DefaultMaxAttachmentValueBytes,
		MaxWSFrameBytes:         DefaultMaxWSFrameBytes,
		MaxReplayBatch:          DefaultMaxReplayBatch,

		RateLimitRPS:   DefaultRateLimitRPS,
		RateLimitBurst: DefaultRateLimitBurst,

		PluginTimeoutSeconds:   DefaultPluginTimeoutSeconds,
		CircuitThreshold:       DefaultCircuitThreshold,
		CircuitCooldownSeconds: DefaultCircuitCooldownSecs,
	}
}

// ApplyEnv overlays AGENTLIP_-prefixed environment variables onto cfg. CLI
// flags are applied by the caller after this, so flags win over env.
//
// Environment variables:
//   - AGENTLIP_HOST, AGENTLIP_PORT
//   - AGENTLIP_UNSAFE ("true"/"1")
//   - AGENTLIP_AUTH_TOKEN
//   - AGENTLIP_MAX_MESSAGE_BYTES, AGENTLIP_MAX_ATTACHMENT_BYTES, AGENTLIP_MAX_WS_FRAME_BYTES, AGENTLIP_MAX_REPLAY_BATCH
//   - AGENTLIP_RATE_LIMIT_RPS, AGENTLIP_RATE_LIMIT_BURST
//   - AGENTLIP_PLUGIN_TIMEOUT_SECONDS, AGENTLIP_CIRCUIT_THRESHOLD, AGENTLIP_CIRCUIT_COOLDOWN_SECONDS
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("AGENTLIP_HOST"); v != "" {
		c.Host = v
	}
	if v := envInt("AGENTLIP_PORT"); v > 0 {
		c.Port = v
	}
	if envBool("AGENTLIP_UNSAFE") {
		c.Unsafe = true
	}
	if v := os.Getenv("AGENTLIP_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := envInt("AGENTLIP_MAX_MESSAGE_BYTES"); v > 0 {
		c.MaxMessageContentBytes = v
	}
	if v := envInt("AGENTLIP_MAX_ATTACHMENT_BYTES"); v > 0 {
		c.MaxAttachmentValueBytes = v
	}
	if v := envInt("AGENTLIP_MAX_WS_FRAME_BYTES"); v > 0 {
		c.MaxWSFrameBytes = v
	}
	if v := envInt("AGENTLIP_MAX_REPLAY_BATCH"); v > 0 {
		c.MaxReplayBatch = v
	}
	if v := envFloat("AGENTLIP_RATE_LIMIT_RPS"); v > 0 {
		c.RateLimitRPS = v
	}
	if v := envInt("AGENTLIP_RATE_LIMIT_BURST"); v > 0 {
		c.RateLimitBurst = v
	}
	if v := envInt("AGENTLIP_PLUGIN_TIMEOUT_SECONDS"); v > 0 {
		c.PluginTimeoutSeconds = v
	}
	if v := envInt("AGENTLIP_CIRCUIT_THRESHOLD"); v > 0 {
		c.CircuitThreshold = v
	}
	if v := envInt("AGENTLIP_CIRCUIT_COOLDOWN_SECONDS"); v > 0 {
		c.CircuitCooldownSeconds = v
	}
	return c
}

// ValidateBind checks Host against the spec §4.6 bind-safety allowlist.
func (c Config) ValidateBind() error {
	if isLoopbackHost(c.Host) {
		return nil
	}
	if c.Unsafe {
		return nil
	}
	return fmt.Errorf("%w: host %q is not loopback and --unsafe not set", model.ErrBindUnsafe, c.Host)
}

func isLoopbackHost(host string) bool {
	switch host {
	case "127.0.0.1", "::1", "localhost", "[::1]":
		return true
	}
	return false
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}
