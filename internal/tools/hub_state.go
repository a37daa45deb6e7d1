package tools

import (
	"context"
	"fmt"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// RunnerLookup resolves a hub agent id to its live Runner — the same
// arena-style seam the Scheduler uses, reused here so tools never hold
// a Runner reference longer than one call.
type RunnerLookup func(hubAgentID string) (*runner.Runner, bool)

// HubStateTool wraps Runner.SetStateValue/GetStateStore and the
// escalation rule CRUD, per the get|get_all|set|delete|escalation_rules
// |escalate|clear_escalation action set.
type HubStateTool struct {
	lookup RunnerLookup
}

func NewHubStateTool(lookup RunnerLookup) *HubStateTool {
	return &HubStateTool{lookup: lookup}
}

func (t *HubStateTool) Name() string { return "hub_state" }

func (t *HubStateTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	r, ok := t.lookup(call.AgentID)
	if !ok {
		return errorResult(call, fmt.Sprintf("no runner for agent %s", call.AgentID))
	}

	action, _ := call.Input["action"].(string)
	key, _ := call.Input["key"].(string)

	switch action {
	case "get":
		if key == "" {
			return errorResult(call, "key is required")
		}
		kv := r.GetStateStore()
		v, ok := kv.Values[key]
		if !ok {
			return errorResult(call, fmt.Sprintf("no such key %q", key))
		}
		return okResult(call, fmt.Sprintf("%v", v))

	case "get_all":
		kv := r.GetStateStore()
		return okResult(call, fmt.Sprintf("%v", kv.Values))

	case "set":
		if key == "" {
			return errorResult(call, "key is required")
		}
		value := call.Input["value"]
		if err := r.SetStateValue(key, value); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("set %s", key))

	case "delete":
		if key == "" {
			return errorResult(call, "key is required")
		}
		r.DeleteStateValue(key)
		return okResult(call, fmt.Sprintf("deleted %s", key))

	case "escalation_rules":
		rules := r.EscalationRules()
		return okResult(call, fmt.Sprintf("%+v", rules))

	case "escalate":
		if key == "" {
			return errorResult(call, "key is required")
		}
		rule := store.StateRule{
			Key:       key,
			Condition: stringInput(call, "condition"),
			Threshold: call.Input["threshold"],
			Message:   stringInput(call, "message"),
			EventName: stringInput(call, "eventName"),
		}
		if rule.Condition == "" {
			rule.Condition = "always"
		}
		r.SetEscalationRule(rule)
		return okResult(call, fmt.Sprintf("escalation rule set for %s", key))

	case "clear_escalation":
		if key == "" {
			return errorResult(call, "key is required")
		}
		r.ClearEscalationRule(key)
		return okResult(call, fmt.Sprintf("escalation rule cleared for %s", key))

	default:
		return errorResult(call, fmt.Sprintf("unknown hub_state action %q", action))
	}
}

func stringInput(call toolpipeline.Call, field string) string {
	s, _ := call.Input[field].(string)
	return s
}
