package skills

import (
	"context"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/agenthub/hubd/internal/toolpipeline"
)

func TestBridgeToolNameUsesPrefixOverServerName(t *testing.T) {
	b := NewBridgeTool("weather-server", mcpgo.Tool{Name: "forecast"}, nil, "wx", nil)
	if b.Name() != "wx:forecast" {
		t.Errorf("expected prefix to take priority, got %q", b.Name())
	}
	if b.OriginalName() != "forecast" {
		t.Errorf("expected original name 'forecast', got %q", b.OriginalName())
	}
}

func TestBridgeToolNameFallsBackToServerName(t *testing.T) {
	b := NewBridgeTool("weather-server", mcpgo.Tool{Name: "forecast"}, nil, "", nil)
	if b.Name() != "weather-server:forecast" {
		t.Errorf("expected server name fallback, got %q", b.Name())
	}
}

func TestRenderContentJoinsTextBlocks(t *testing.T) {
	blocks := []mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "line one"},
		mcpgo.TextContent{Type: "text", Text: "line two"},
	}
	got := renderContent(blocks)
	if got != "line one\nline two" {
		t.Errorf("expected joined text blocks, got %q", got)
	}
}

func TestBridgeToolDisconnectedServerErrors(t *testing.T) {
	var connected atomic.Bool
	connected.Store(false)
	b := NewBridgeTool("weather-server", mcpgo.Tool{Name: "forecast"}, nil, "", &connected)
	if b.connected.Load() {
		t.Fatal("expected test fixture to start disconnected")
	}
	res := b.Execute(context.Background(), toolpipeline.Call{ToolUseID: "1"})
	if !res.ToolResultError {
		t.Errorf("expected an error tool result from a disconnected server, got %q", res.ToolResultText)
	}
}
