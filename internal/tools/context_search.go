package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

const contextSearchMaxOutputBytes = 16 * 1024

// ContextSearchTool performs a substring or regex search over the
// calling agent's conversation history, with bounded output size.
type ContextSearchTool struct {
	lookup RunnerLookup
}

func NewContextSearchTool(lookup RunnerLookup) *ContextSearchTool {
	return &ContextSearchTool{lookup: lookup}
}

func (t *ContextSearchTool) Name() string { return "context_search" }

func (t *ContextSearchTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	query, _ := call.Input["query"].(string)
	if query == "" {
		return errorResult(call, "query is required")
	}
	useRegex, _ := call.Input["regex"].(bool)

	r, ok := t.lookup(call.AgentID)
	if !ok {
		return errorResult(call, fmt.Sprintf("no runner for agent %s", call.AgentID))
	}

	var re *regexp.Regexp
	if useRegex {
		compiled, err := regexp.Compile(query)
		if err != nil {
			return errorResult(call, fmt.Sprintf("invalid regex: %v", err))
		}
		re = compiled
	}

	history := r.GetMessageHistory()
	var matches []string
	for i, msg := range history {
		for _, block := range msg.Content {
			if block.Type != "text" {
				continue
			}
			hit := false
			if re != nil {
				hit = re.MatchString(block.Text)
			} else {
				hit = strings.Contains(block.Text, query)
			}
			if hit {
				matches = append(matches, fmt.Sprintf("[%d] %s: %s", i, msg.Role, block.Text))
			}
		}
	}

	output := strings.Join(matches, "\n")
	if len(output) > contextSearchMaxOutputBytes {
		output = output[:contextSearchMaxOutputBytes] + "\n... (truncated)"
	}
	if output == "" {
		output = "(no matches)"
	}
	return okResult(call, output)
}
