package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/agenthub/hubd/internal/toolpipeline"
)

func TestContextSearchFindsSubstringMatch(t *testing.T) {
	r := newTestRunner("agent-1")
	r.AddInfoMessage("the quick brown fox")
	r.AddInfoMessage("jumps over the lazy dog")

	tool := NewContextSearchTool(lookupFor(r))
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"query": "brown"},
	})
	if res.ToolResultError {
		t.Fatalf("unexpected error: %s", res.ToolResultText)
	}
	if !strings.Contains(res.ToolResultText, "brown fox") {
		t.Errorf("expected match to include the hit line, got %q", res.ToolResultText)
	}
}

func TestContextSearchRegexMode(t *testing.T) {
	r := newTestRunner("agent-1")
	r.AddInfoMessage("error code 42")
	r.AddInfoMessage("all clear")

	tool := NewContextSearchTool(lookupFor(r))
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"query": `error code \d+`, "regex": true},
	})
	if res.ToolResultError {
		t.Fatalf("unexpected error: %s", res.ToolResultText)
	}
	if !strings.Contains(res.ToolResultText, "error code 42") {
		t.Errorf("expected regex match, got %q", res.ToolResultText)
	}
}

func TestContextSearchInvalidRegexErrors(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewContextSearchTool(lookupFor(r))
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"query": "(unclosed", "regex": true},
	})
	if !res.ToolResultError {
		t.Fatal("expected invalid regex to error")
	}
}

func TestContextSearchNoMatches(t *testing.T) {
	r := newTestRunner("agent-1")
	r.AddInfoMessage("nothing relevant here")
	tool := NewContextSearchTool(lookupFor(r))
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"query": "zzz_not_present"},
	})
	if res.ToolResultError {
		t.Fatalf("unexpected error: %s", res.ToolResultText)
	}
	if res.ToolResultText != "(no matches)" {
		t.Errorf("expected '(no matches)', got %q", res.ToolResultText)
	}
}

func TestContextSearchMissingQueryErrors(t *testing.T) {
	r := newTestRunner("agent-1")
	tool := NewContextSearchTool(lookupFor(r))
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{},
	})
	if !res.ToolResultError {
		t.Fatal("expected missing query to error")
	}
}
