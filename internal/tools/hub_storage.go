package tools

import (
	"context"
	"fmt"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// HubStorageTool wraps Runner.SetStorageValue/GetStorageStore: the same
// quota-enforced KV shape as hub_state, minus escalation rules.
type HubStorageTool struct {
	lookup RunnerLookup
}

func NewHubStorageTool(lookup RunnerLookup) *HubStorageTool {
	return &HubStorageTool{lookup: lookup}
}

func (t *HubStorageTool) Name() string { return "hub_storage" }

func (t *HubStorageTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
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
		kv := r.GetStorageStore()
		v, ok := kv.Values[key]
		if !ok {
			return errorResult(call, fmt.Sprintf("no such key %q", key))
		}
		return okResult(call, fmt.Sprintf("%v", v))

	case "set":
		if key == "" {
			return errorResult(call, "key is required")
		}
		if err := r.SetStorageValue(key, call.Input["value"]); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("set %s", key))

	case "delete":
		if key == "" {
			return errorResult(call, "key is required")
		}
		r.DeleteStorageValue(key)
		return okResult(call, fmt.Sprintf("deleted %s", key))

	case "list":
		kv := r.GetStorageStore()
		keys := make([]string, 0, len(kv.Values))
		for k := range kv.Values {
			keys = append(keys, k)
		}
		return okResult(call, fmt.Sprintf("%v", keys))

	default:
		return errorResult(call, fmt.Sprintf("unknown hub_storage action %q", action))
	}
}
