package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hubd.json5")
	// JSON5: comments and a trailing comma, which stdlib encoding/json
	// would reject.
	body := `{
		// custom port
		"port": "9000",
		"tools": {
			"bash": {"enabled": true, "mode": "unrestricted",},
		},
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Port)
	}
	if cfg.Tools.Bash.Mode != "unrestricted" {
		t.Errorf("bash mode = %q, want unrestricted", cfg.Tools.Bash.Mode)
	}
	// Unset fields keep their defaults.
	if cfg.AgentStorePath == "" {
		t.Errorf("agentStorePath should keep its default")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.Tools.Bash.Mode = "sudo"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad bash mode")
	}
}

func TestValidateRequiresDsnForManagedMode(t *testing.T) {
	cfg := Default()
	cfg.Database.Mode = "managed"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for managed mode without dsn")
	}
	cfg.Database.PostgresDsn = "postgres://x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid once dsn set: %v", err)
	}
}

func TestValidateChecksMcpServerTransport(t *testing.T) {
	cfg := Default()
	cfg.Tools.McpServers["skill1"] = MCPServerConfig{Transport: "sse", Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for sse server missing url")
	}
}
