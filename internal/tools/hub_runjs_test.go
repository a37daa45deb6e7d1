package tools

import (
	"context"
	"testing"

	"github.com/agenthub/hubd/internal/toolpipeline"
)

func TestHubRunJSSetThenGetState(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewHubRunJSTool(lookupFor(r))

	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"code": `state.set("count", 3); state.get("count")`},
	})
	if res.ToolResultError {
		t.Fatalf("unexpected error: %s", res.ToolResultText)
	}
	if res.ToolResultText != "3" {
		t.Errorf("expected '3', got %q", res.ToolResultText)
	}
}

func TestHubRunJSLogPrintCallsAddInfoMessage(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewHubRunJSTool(lookupFor(r))

	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"code": `log.print("hello world")`},
	})
	if res.ToolResultError {
		t.Fatalf("unexpected error: %s", res.ToolResultText)
	}
}

func TestHubRunJSMalformedStatementErrors(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewHubRunJSTool(lookupFor(r))

	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"code": `state.set("no closing paren"`},
	})
	if !res.ToolResultError {
		t.Fatal("expected malformed statement to error")
	}
}

func TestHubRunJSUnknownReceiverErrors(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewHubRunJSTool(lookupFor(r))

	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"code": `network.fetch("http://example.com")`},
	})
	if !res.ToolResultError {
		t.Fatal("expected unknown receiver to error")
	}
}

func TestHubRunJSRecordsInvocationLog(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewHubRunJSTool(lookupFor(r))

	tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"code": `storage.set("a", 1)`},
	})
	log := tool.RecentInvocations("agent-1")
	if len(log) != 1 || log[0] != `storage.set("a", 1)` {
		t.Errorf("expected invocation log to record the code string, got %v", log)
	}
}
