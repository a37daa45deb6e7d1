// Package tools implements the concrete toolpipeline.Tool
// registrations: bash, filesystem, hub_files, hub_state, hub_storage,
// hub_runjs, schedule, browse and context_search (MCP-backed skill
// tools live in internal/skills). Grounded on the teacher's internal/tools package (one file per
// tool, a Result/ErrorResult convention) generalized to the hub's
// pipeline.Call contract.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/sandbox"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// BashTool executes shell commands inside a per-agent BashSandbox,
// creating the sandbox directory on first use.
type BashTool struct {
	sandboxRoot string
	mode        sandbox.BashMode
	runAsUser   string
	timeout     time.Duration
	maxTimeout  time.Duration

	mu        sync.Mutex
	sandboxes map[string]*sandbox.BashSandbox
}

func NewBashTool(sandboxRoot string, mode sandbox.BashMode, runAsUser string, timeout, maxTimeout time.Duration) *BashTool {
	return &BashTool{
		sandboxRoot: sandboxRoot,
		mode:        mode,
		runAsUser:   runAsUser,
		timeout:     timeout,
		maxTimeout:  maxTimeout,
		sandboxes:   make(map[string]*sandbox.BashSandbox),
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) sandboxFor(agentID string) (*sandbox.BashSandbox, error) {
	if sb, ok := t.sandboxes[agentID]; ok {
		return sb, nil
	}
	dir := t.sandboxRoot + "/" + agentID
	sb, err := sandbox.NewBashSandbox(dir, t.mode, t.runAsUser, t.timeout, t.maxTimeout)
	if err != nil {
		return nil, err
	}
	t.sandboxes[agentID] = sb
	return sb, nil
}

func (t *BashTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	command, _ := call.Input["command"].(string)
	if command == "" {
		return errorResult(call, "command is required")
	}

	var override time.Duration
	if ms, ok := call.Input["timeout"].(float64); ok && ms > 0 {
		override = time.Duration(ms) * time.Millisecond
	}

	sb, err := t.sandboxFor(call.AgentID)
	if err != nil {
		return errorResult(call, err.Error())
	}

	result, err := sb.Run(ctx, command, override)
	if err != nil {
		return errorResult(call, err.Error())
	}

	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + result.Stderr
	}
	if result.TimedOut {
		return errorResult(call, fmt.Sprintf("command timed out: %s", output))
	}
	if result.ExitCode != 0 {
		if output == "" {
			output = fmt.Sprintf("command exited with code %d", result.ExitCode)
		}
		return errorResult(call, output)
	}
	if output == "" {
		output = "(command completed with no output)"
	}
	return okResult(call, output)
}

func okResult(call toolpipeline.Call, text string) llm.ContentBlock {
	return llm.ToolResult(call.ToolUseID, text, false)
}

func errorResult(call toolpipeline.Call, text string) llm.ContentBlock {
	return llm.ToolResult(call.ToolUseID, text, true)
}
