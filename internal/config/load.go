package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Service ports. The compose renderer and the caddy route table assume
// these defaults; overriding them in config must be mirrored in the
// stack spec.
const (
	DefaultGuardianPort = 8710
	DefaultAdminPort    = 8720
	DefaultAPIPort      = 8701
	DefaultA2APort      = 8702
	DefaultChatPort     = 8703
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Guardian: GuardianConfig{
			Host: "0.0.0.0",
			Port: DefaultGuardianPort,
		},
		Assistant: AssistantConfig{
			URL:       "http://assistant:4096",
			TimeoutMs: 120_000,
		},
		Adapters: AdaptersConfig{
			GuardianURL: "http://guardian:8710",
			API:         HTTPAdapterConfig{Enabled: true, Host: "0.0.0.0", Port: DefaultAPIPort},
			A2A:         HTTPAdapterConfig{Enabled: true, Host: "0.0.0.0", Port: DefaultA2APort},
			Chat:        HTTPAdapterConfig{Enabled: true, Host: "0.0.0.0", Port: DefaultChatPort},
		},
		Admin: AdminConfig{
			Host: "0.0.0.0",
			Port: DefaultAdminPort,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "openpalm",
		},
		Sync: SyncConfig{Provider: "none"},
	}
}

// Load reads config from a YAML file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Guardian
	envStr("GUARDIAN_HOST", &c.Guardian.Host)
	envInt("GUARDIAN_PORT", &c.Guardian.Port)
	envStr("GUARDIAN_AUDIT_PATH", &c.Guardian.AuditPath)

	// Assistant backend
	envStr("ASSISTANT_URL", &c.Assistant.URL)
	envInt("ASSISTANT_TIMEOUT_MS", &c.Assistant.TimeoutMs)
	envStr("ASSISTANT_BASIC_AUTH", &c.Assistant.BasicAuth)

	// Adapters
	envStr("GUARDIAN_URL", &c.Adapters.GuardianURL)
	envStr("CHANNEL_API_SECRET", &c.Adapters.API.Secret)
	envStr("CHANNEL_A2A_SECRET", &c.Adapters.A2A.Secret)
	envStr("CHANNEL_CHAT_SECRET", &c.Adapters.Chat.Secret)
	envStr("CHANNEL_DISCORD_SECRET", &c.Adapters.Discord.Secret)
	envStr("CHANNEL_TELEGRAM_SECRET", &c.Adapters.Telegram.Secret)
	envStr("CHANNEL_API_BEARER_TOKEN", &c.Adapters.API.BearerToken)
	envStr("CHANNEL_A2A_BEARER_TOKEN", &c.Adapters.A2A.BearerToken)
	envStr("CHANNEL_CHAT_BEARER_TOKEN", &c.Adapters.Chat.BearerToken)
	envStr("DISCORD_BOT_TOKEN", &c.Adapters.Discord.Token)
	envStr("TELEGRAM_BOT_TOKEN", &c.Adapters.Telegram.Token)

	// Socket adapters come up when their credentials are present.
	if c.Adapters.Discord.Token != "" {
		c.Adapters.Discord.Enabled = true
	}
	if c.Adapters.Telegram.Token != "" {
		c.Adapters.Telegram.Enabled = true
	}

	// Admin
	envStr("ADMIN_HOST", &c.Admin.Host)
	envInt("ADMIN_PORT", &c.Admin.Port)
	envStr("ADMIN_TOKEN", &c.Admin.Token)
	envStr("ADMIN_AUDIT_PATH", &c.Admin.AuditPath)

	// Telemetry
	envBool("OPENPALM_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("OPENPALM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OPENPALM_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envBool("OPENPALM_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("OPENPALM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	// Sync
	envStr("OPENPALM_SYNC_PROVIDER", &c.Sync.Provider)
}

// Save writes the config to a YAML file. Secret fields carry `yaml:"-"`
// and never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with secret fields masked,
// safe to log or return from status endpoints.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Config{
		Guardian:  c.Guardian,
		Assistant: c.Assistant,
		Adapters:  c.Adapters,
		Admin:     c.Admin,
		Telemetry: c.Telemetry,
		Sync:      c.Sync,
	}
	maskNonEmpty(&cp.Assistant.BasicAuth)
	maskNonEmpty(&cp.Admin.Token)
	maskNonEmpty(&cp.Adapters.API.Secret)
	maskNonEmpty(&cp.Adapters.API.BearerToken)
	maskNonEmpty(&cp.Adapters.A2A.Secret)
	maskNonEmpty(&cp.Adapters.A2A.BearerToken)
	maskNonEmpty(&cp.Adapters.Chat.Secret)
	maskNonEmpty(&cp.Adapters.Chat.BearerToken)
	maskNonEmpty(&cp.Adapters.Discord.Secret)
	maskNonEmpty(&cp.Adapters.Discord.Token)
	maskNonEmpty(&cp.Adapters.Telegram.Secret)
	maskNonEmpty(&cp.Adapters.Telegram.Token)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
