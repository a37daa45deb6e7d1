// Package skills registers skill tools dynamically from connected MCP
// servers into the shared tool Registry. Grounded on the teacher's
// internal/mcp package (Manager/serverState/connectServer shape),
// generalized from the teacher's per-agent managed-mode server store to
// SPEC_FULL.md's single shared config.ToolsConfig.McpServers map plus a
// skills.reload admin command.
package skills

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// BridgeTool proxies one MCP-advertised tool through the pipeline's
// Tool interface. MCP is the transport, not a bypass: calls still pass
// through the same pre/post-hook envelope as built-in tools.
type BridgeTool struct {
	serverName string
	origName   string
	prefix     string
	client     *mcpclient.Client
	connected  *atomic.Bool
}

func NewBridgeTool(serverName string, tool mcpgo.Tool, client *mcpclient.Client, prefix string, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		serverName: serverName,
		origName:   tool.Name,
		prefix:     prefix,
		client:     client,
		connected:  connected,
	}
}

// Name is the registry-facing tool name: the configured prefix (or the
// server name, if no prefix was set) joined to the MCP tool's own name.
func (b *BridgeTool) Name() string {
	prefix := b.prefix
	if prefix == "" {
		prefix = b.serverName
	}
	return prefix + ":" + b.origName
}

// OriginalName is the MCP server's own tool name, without the registry
// prefix; it is the name Execute sends in CallTool requests.
func (b *BridgeTool) OriginalName() string { return b.origName }

func (b *BridgeTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	if b.connected != nil && !b.connected.Load() {
		return llm.ToolResult(call.ToolUseID, fmt.Sprintf("skill tool %q: server %q is disconnected", b.Name(), b.serverName), true)
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.origName
	req.Params.Arguments = call.Input

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		return llm.ToolResult(call.ToolUseID, fmt.Sprintf("skill tool %q: %v", b.Name(), err), true)
	}

	text := renderContent(result.Content)
	return llm.ToolResult(call.ToolUseID, text, result.IsError)
}

func renderContent(blocks []mcpgo.Content) string {
	var parts []string
	for _, c := range blocks {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[unrendered %T content]", c))
	}
	return strings.Join(parts, "\n")
}
