// Package config loads and validates hubd's configuration surface.
package config

import "fmt"

// Config is the fully-resolved configuration for one hub process.
type Config struct {
	Port                string `json:"port"`
	Host                string `json:"host"`
	Name                string `json:"name"`
	AdminPort           string `json:"adminPort"`
	AdminToken          string `json:"adminToken"`
	AuthToken           string `json:"authToken"`
	LocalhostBypassAuth bool   `json:"localhostBypassAuth"`

	SandboxPath    string `json:"sandboxPath"`
	AgentStorePath string `json:"agentStorePath"`

	Tools      ToolsConfig      `json:"tools"`
	FetchProxy FetchProxyConfig `json:"fetchProxy"`
	Push       PushConfig       `json:"push"`
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// ToolsConfig groups every built-in tool's own configuration block.
type ToolsConfig struct {
	Bash       BashToolConfig       `json:"bash"`
	Filesystem FilesystemToolConfig `json:"filesystem"`
	Browse     BrowseToolConfig     `json:"browse"`
	McpServers map[string]MCPServerConfig `json:"mcpServers"`
}

type BashToolConfig struct {
	Enabled      bool   `json:"enabled"`
	Mode         string `json:"mode"` // "restricted" | "unrestricted"
	RunAsUser    string `json:"runAsUser,omitempty"`
	TimeoutMs    int    `json:"timeoutMs,omitempty"`
	MaxTimeoutMs int    `json:"maxTimeoutMs,omitempty"`
}

type FilesystemToolConfig struct {
	Enabled      bool     `json:"enabled"`
	AllowedPaths []string `json:"allowedPaths"`
}

type BrowseToolConfig struct {
	Enabled                bool   `json:"enabled"`
	MaxConcurrentSessions  int    `json:"maxConcurrentSessions"`
	SessionTimeoutMinutes  int    `json:"sessionTimeoutMinutes"`
	Viewport               string `json:"viewport"`
}

// MCPServerConfig describes one skill-tool-backing MCP server.
type MCPServerConfig struct {
	Transport     string            `json:"transport"` // "stdio" | "sse" | "streamable-http"
	Command       string            `json:"command,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	URL           string            `json:"url,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Enabled       bool              `json:"enabled"`
	ToolPrefix    string            `json:"toolPrefix,omitempty"`
	TimeoutSec    int               `json:"timeoutSec,omitempty"`
}

func (m MCPServerConfig) IsEnabled() bool { return m.Enabled }

type FetchProxyConfig struct {
	Enabled         bool     `json:"enabled"`
	AllowedPatterns []string `json:"allowedPatterns"`
	BlockedPatterns []string `json:"blockedPatterns"`
}

type PushConfig struct {
	Enabled   bool   `json:"enabled"`
	VapidEmail string `json:"vapidEmail"`
}

// GatewayConfig covers the duplex-protocol transport knobs.
type GatewayConfig struct {
	AllowedOrigins  []string `json:"allowedOrigins"`
	AdminTransport  string   `json:"adminTransport"` // default "coder"
	RateLimitRpm    int      `json:"rateLimitRpm"`
	MaxFailedAuth   int      `json:"maxFailedAuth"`
	LockoutMinutes  int      `json:"lockoutMinutes"`
}

// DatabaseConfig selects standalone (file/sqlite) vs managed (Postgres
// mirror) persistence per SPEC_FULL.md §4.6. PostgresDsn is env-only,
// never read from the JSON5 file.
type DatabaseConfig struct {
	Mode        string `json:"mode"` // "standalone" | "managed"
	PostgresDsn string `json:"-"`
}

func (d DatabaseConfig) IsManaged() bool { return d.Mode == "managed" }

// TelemetryConfig is the optional OTel exporter configuration.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint"`
	Protocol    string            `json:"protocol"` // "grpc" | "http"
	Insecure    bool              `json:"insecure"`
	ServiceName string            `json:"serviceName"`
	Headers     map[string]string `json:"headers"`
}

// Validate checks the configuration surface for internal consistency,
// returning a plain error describing the first failure so the
// caller can exit with code 2 per spec.md §6.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.AgentStorePath == "" {
		return fmt.Errorf("config: agentStorePath is required")
	}
	if c.Tools.Bash.Mode != "" && c.Tools.Bash.Mode != "restricted" && c.Tools.Bash.Mode != "unrestricted" {
		return fmt.Errorf("config: tools.bash.mode must be restricted or unrestricted, got %q", c.Tools.Bash.Mode)
	}
	if c.Database.Mode != "" && c.Database.Mode != "standalone" && c.Database.Mode != "managed" {
		return fmt.Errorf("config: database.mode must be standalone or managed, got %q", c.Database.Mode)
	}
	if c.Database.IsManaged() && c.Database.PostgresDsn == "" {
		return fmt.Errorf("config: database.mode=managed requires HUBD_POSTGRES_DSN")
	}
	for name, m := range c.Tools.McpServers {
		if !m.IsEnabled() {
			continue
		}
		switch m.Transport {
		case "stdio":
			if m.Command == "" {
				return fmt.Errorf("config: tools.mcpServers.%s: stdio transport requires command", name)
			}
		case "sse", "streamable-http":
			if m.URL == "" {
				return fmt.Errorf("config: tools.mcpServers.%s: %s transport requires url", name, m.Transport)
			}
		default:
			return fmt.Errorf("config: tools.mcpServers.%s: unknown transport %q", name, m.Transport)
		}
	}
	return nil
}
