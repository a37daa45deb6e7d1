package config

import (
	"fmt"
	"os"

	json5 "github.com/titanous/json5"
)

// Default returns a Config with the same sensible defaults the
// teacher's loader applies before a file is read.
func Default() *Config {
	return &Config{
		Port:                "8787",
		Host:                "0.0.0.0",
		Name:                "hubd",
		AdminPort:           "8788",
		LocalhostBypassAuth: true,
		SandboxPath:         "/var/lib/hubd/sandboxes",
		AgentStorePath:      "/var/lib/hubd/agents",
		Tools: ToolsConfig{
			Bash: BashToolConfig{
				Enabled:      true,
				Mode:         "restricted",
				TimeoutMs:    30_000,
				MaxTimeoutMs: 300_000,
			},
			Filesystem: FilesystemToolConfig{
				Enabled: true,
			},
			Browse: BrowseToolConfig{
				Enabled:               true,
				MaxConcurrentSessions: 4,
				SessionTimeoutMinutes: 30,
				Viewport:              "1280x800",
			},
			McpServers: map[string]MCPServerConfig{},
		},
		FetchProxy: FetchProxyConfig{
			Enabled: false,
		},
		Push: PushConfig{
			Enabled: false,
		},
		Gateway: GatewayConfig{
			AdminTransport: "coder",
			RateLimitRpm:   120,
			MaxFailedAuth:  5,
			LockoutMinutes: 15,
		},
		Database: DatabaseConfig{
			Mode: "standalone",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Protocol: "grpc",
		},
	}
}

// Load reads a JSON5 config file (comments and trailing commas
// tolerated, matching the teacher's loader), merges it over Default,
// overlays secret fields from the environment, and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json5.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overlayEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayEnv applies secrets that must never live in the config file
// itself, mirroring the teacher's env-overlay step.
func overlayEnv(cfg *Config) {
	if v := os.Getenv("HUBD_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("HUBD_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("HUBD_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDsn = v
	}
}
