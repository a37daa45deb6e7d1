package tools

import (
	"context"
	"testing"

	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/scheduler"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

func newTestScheduler() *scheduler.Scheduler {
	lookup := func(hubAgentID string) (*runner.Runner, bool) { return nil, false }
	exec := func(ctx context.Context, agentID, tool string, input map[string]interface{}) (string, bool) {
		return "", false
	}
	return scheduler.New(lookup, exec, bus.NewPublisher())
}

func TestScheduleToolAddDefaultsEnabled(t *testing.T) {
	sched := newTestScheduler()
	tool := NewScheduleTool(sched)

	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{
			"action":         "add",
			"type":           "cron",
			"cronExpression": "0 9 * * *",
			"message":        "good morning",
		},
	})
	if res.ToolResultError {
		t.Fatalf("add failed: %s", res.ToolResultText)
	}

	entries := sched.GetSchedules("agent-1")
	if len(entries) != 1 || !entries[0].Enabled {
		t.Fatalf("expected one enabled-by-default schedule, got %+v", entries)
	}
}

func TestScheduleToolAddRespectsExplicitDisabled(t *testing.T) {
	sched := newTestScheduler()
	tool := NewScheduleTool(sched)

	tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{
			"action":         "add",
			"type":           "cron",
			"cronExpression": "0 9 * * *",
			"message":        "good morning",
			"enabled":        false,
		},
	})

	entries := sched.GetSchedules("agent-1")
	if len(entries) != 1 || entries[0].Enabled {
		t.Fatalf("expected the explicit enabled=false to stick, got %+v", entries)
	}
}

func TestScheduleToolRemove(t *testing.T) {
	sched := newTestScheduler()
	tool := NewScheduleTool(sched)

	addRes := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{
			"action":         "add",
			"type":           "cron",
			"cronExpression": "0 9 * * *",
			"message":        "good morning",
		},
	})
	if addRes.ToolResultError {
		t.Fatalf("add failed: %s", addRes.ToolResultText)
	}
	entries := sched.GetSchedules("agent-1")
	if len(entries) != 1 {
		t.Fatalf("expected one schedule before remove, got %d", len(entries))
	}

	removeRes := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "2",
		Input: map[string]interface{}{"action": "remove", "id": entries[0].ID},
	})
	if removeRes.ToolResultError {
		t.Fatalf("remove failed: %s", removeRes.ToolResultText)
	}
	if len(sched.GetSchedules("agent-1")) != 0 {
		t.Fatal("expected schedule to be gone after remove")
	}
}

func TestScheduleToolUnknownAction(t *testing.T) {
	sched := newTestScheduler()
	tool := NewScheduleTool(sched)
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"action": "bogus"},
	})
	if !res.ToolResultError {
		t.Fatal("expected unknown action to error")
	}
}
