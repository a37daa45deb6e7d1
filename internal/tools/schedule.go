package tools

import (
	"context"
	"fmt"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/scheduler"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// ScheduleTool wraps the Scheduler's public contract: add/remove/enable
// /disable/list, with the default-enabled behavior the Scheduler itself
// deliberately leaves to its caller.
type ScheduleTool struct {
	sched *scheduler.Scheduler
}

func NewScheduleTool(sched *scheduler.Scheduler) *ScheduleTool {
	return &ScheduleTool{sched: sched}
}

func (t *ScheduleTool) Name() string { return "schedule" }

func (t *ScheduleTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	action, _ := call.Input["action"].(string)

	switch action {
	case "add":
		entry := store.ScheduleEntry{
			HubAgentID:     call.AgentID,
			Type:           stringInput(call, "type"),
			CronExpression: stringInput(call, "cronExpression"),
			EventName:      stringInput(call, "eventName"),
			EventCondition: stringInput(call, "eventCondition"),
			Message:        stringInput(call, "message"),
			Tool:           stringInput(call, "tool"),
			Enabled:        true,
		}
		if v, ok := call.Input["enabled"].(bool); ok {
			entry.Enabled = v
		}
		if toolInput, ok := call.Input["toolInput"].(map[string]interface{}); ok {
			entry.ToolInput = toolInput
		}
		if maxRuns, ok := call.Input["maxRuns"].(float64); ok {
			entry.MaxRuns = int(maxRuns)
		}
		id, err := t.sched.AddSchedule(entry)
		if err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("schedule %s added", id))

	case "remove":
		id := stringInput(call, "id")
		if err := t.sched.RemoveSchedule(call.AgentID, id); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("schedule %s removed", id))

	case "enable":
		id := stringInput(call, "id")
		if err := t.sched.EnableSchedule(call.AgentID, id); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("schedule %s enabled", id))

	case "disable":
		id := stringInput(call, "id")
		if err := t.sched.DisableSchedule(call.AgentID, id); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("schedule %s disabled", id))

	case "list":
		entries := t.sched.GetSchedules(call.AgentID)
		return okResult(call, fmt.Sprintf("%+v", entries))

	default:
		return errorResult(call, fmt.Sprintf("unknown schedule action %q", action))
	}
}
