// Package config holds the process configuration tree for the openpalm
// services. One file configures all three processes (guardian, channel
// adapters, admin control plane); each subcommand reads the section it
// needs. Environment variables always win over file values.
package config

import "sync"

// Config is the root of the configuration tree.
type Config struct {
	Guardian  GuardianConfig  `yaml:"guardian"`
	Assistant AssistantConfig `yaml:"assistant"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
	Admin     AdminConfig     `yaml:"admin"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Sync      SyncConfig      `yaml:"sync,omitempty"`

	mu sync.RWMutex
}

// GuardianConfig configures the trust-boundary ingress service.
type GuardianConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuditPath string `yaml:"audit_path,omitempty"` // default <stateHome>/audit/guardian.jsonl
}

// AssistantConfig points the guardian at the LLM assistant backend.
// The backend is a black box exposing session create + message send.
type AssistantConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"` // message send; create is fixed at 10s
	BasicAuth string `yaml:"-"`                    // "user:pass", env ASSISTANT_BASIC_AUTH only
}

// AdaptersConfig configures the channel adapter process. HTTP adapters
// bind their own ports; socket adapters (discord, telegram) hold a
// client connection instead.
type AdaptersConfig struct {
	GuardianURL string `yaml:"guardian_url"`

	API      HTTPAdapterConfig   `yaml:"api"`
	A2A      HTTPAdapterConfig   `yaml:"a2a"`
	Chat     HTTPAdapterConfig   `yaml:"chat"`
	Discord  SocketAdapterConfig `yaml:"discord"`
	Telegram SocketAdapterConfig `yaml:"telegram"`
}

// HTTPAdapterConfig is shared by the api, a2a, and chat adapters.
type HTTPAdapterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BearerToken string `yaml:"-"` // env only
	Secret      string `yaml:"-"` // CHANNEL_<NAME>_SECRET, env only
}

// SocketAdapterConfig is shared by the discord and telegram adapters.
type SocketAdapterConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Token        string   `yaml:"-"` // bot token, env only
	Secret       string   `yaml:"-"` // CHANNEL_<NAME>_SECRET, env only
	AllowedUsers []string `yaml:"allowed_users,omitempty"`
}

// AdminConfig configures the control-plane API.
type AdminConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Token     string `yaml:"-"` // env ADMIN_TOKEN or set via /setup
	AuditPath string `yaml:"audit_path,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export. When enabled,
// spans are exported to an OTLP-compatible backend (Jaeger, Tempo, etc.).
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled,omitempty"`
	Endpoint    string            `yaml:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `yaml:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `yaml:"insecure,omitempty"`     // plaintext export, local dev
	ServiceName string            `yaml:"service_name,omitempty"` // default "openpalm"
	Headers     map[string]string `yaml:"headers,omitempty"`      // auth headers for cloud backends
}

// SyncConfig selects the after-mutation config sync provider.
type SyncConfig struct {
	Provider string `yaml:"provider,omitempty"` // "none" (default), "git", "tar"
}
