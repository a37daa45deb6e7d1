// Package toolpipeline executes tool calls under a uniform
// pre-hook/dispatch/post-hook envelope with declarative guard rules.
// Grounded on the teacher's internal/tools package layout (a Registry
// of named tool implementations) generalized to the hub's rule-based
// gating model; script-action rules are deliberately unsupported (see
// DESIGN.md).
package toolpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/agenthub/hubd/internal/llm"
)

// Action is a pre-hook rule's disposition.
type Action string

const (
	ActionDeny  Action = "deny"
	ActionAllow Action = "allow"
	ActionLog   Action = "log"
)

// Rule is one declarative or imperative pre/post-hook registration.
// Matcher is required; InputMatchers, if present, must all match their
// named input field for the rule to apply.
type Rule struct {
	Name          string
	Priority      int // lower runs first
	Matcher       *regexp.Regexp
	InputMatchers map[string]*regexp.Regexp
	Action        Action
	Reason        string
}

func (r Rule) matches(toolName string, input map[string]interface{}) bool {
	if r.Matcher == nil || !r.Matcher.MatchString(toolName) {
		return false
	}
	for field, re := range r.InputMatchers {
		v, ok := input[field]
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok || !re.MatchString(s) {
			return false
		}
	}
	return true
}

// Tool is one dispatchable tool implementation.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call Call) llm.ContentBlock
}

// Call carries everything a tool implementation needs: the calling
// agent's id, the tool_use id, the tool name and the raw input.
type Call struct {
	AgentID   string
	ToolUseID string
	ToolName  string
	Input     map[string]interface{}
}

// Registry holds the set of dispatchable tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name, used when an MCP server
// disconnects or is reloaded.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Pipeline is the runner.ToolExecutor implementation: declarative
// pre-hooks, then imperative pre-hooks, then dispatch, then post-hooks.
type Pipeline struct {
	mu           sync.RWMutex
	registry     *Registry
	declarative  []Rule
	imperative   []Rule
	postHooks    []func(ctx context.Context, call Call, result llm.ContentBlock)
}

func New(registry *Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// AddDeclarativeRule registers a config-sourced rule.
func (p *Pipeline) AddDeclarativeRule(r Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declarative = append(p.declarative, r)
	sortRules(p.declarative)
}

// AddImperativeRule registers a programmatic rule, evaluated after all
// declarative rules.
func (p *Pipeline) AddImperativeRule(r Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imperative = append(p.imperative, r)
	sortRules(p.imperative)
}

// AddPostHook registers an observer that may log but never alter the
// outcome of a dispatched call.
func (p *Pipeline) AddPostHook(h func(ctx context.Context, call Call, result llm.ContentBlock)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postHooks = append(p.postHooks, h)
}

func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
}

// Execute implements runner.ToolExecutor.
func (p *Pipeline) Execute(ctx context.Context, agentID, toolName string, input map[string]interface{}) llm.ContentBlock {
	call := Call{AgentID: agentID, ToolName: toolName, Input: input}

	p.mu.RLock()
	declarative := append([]Rule(nil), p.declarative...)
	imperative := append([]Rule(nil), p.imperative...)
	posts := append([]func(context.Context, Call, llm.ContentBlock){}, p.postHooks...)
	p.mu.RUnlock()

	result, verdict := evaluateHooks(declarative, call)
	if verdict == verdictDeny {
		return p.runPostHooks(ctx, posts, call, result)
	}
	if verdict == verdictContinue {
		result, verdict = evaluateHooks(imperative, call)
		if verdict == verdictDeny {
			return p.runPostHooks(ctx, posts, call, result)
		}
	}

	tool, ok := p.registry.Get(toolName)
	if !ok {
		return p.runPostHooks(ctx, posts, call, llm.ToolResult("", fmt.Sprintf("unknown tool %q", toolName), true))
	}

	result = tool.Execute(ctx, call)
	return p.runPostHooks(ctx, posts, call, result)
}

func (p *Pipeline) runPostHooks(ctx context.Context, posts []func(context.Context, Call, llm.ContentBlock), call Call, result llm.ContentBlock) llm.ContentBlock {
	for _, h := range posts {
		h(ctx, call, result)
	}
	return result
}

type verdict int

const (
	verdictContinue verdict = iota // no deny/allow rule matched; proceed to the next pre-hook step
	verdictAllow                    // an allow rule matched; skip straight to dispatch
	verdictDeny                     // a deny rule matched; short-circuit with its result
)

// evaluateHooks runs one ordered hook list. A deny rule short-circuits
// with its result; an allow rule skips the remainder of the pipeline's
// pre-hook steps entirely (both the rest of this list and, if this is
// the declarative step, the imperative step too).
func evaluateHooks(rules []Rule, call Call) (llm.ContentBlock, verdict) {
	for _, rule := range rules {
		if !rule.matches(call.ToolName, call.Input) {
			continue
		}
		switch rule.Action {
		case ActionDeny:
			return llm.ToolResult("", denyReason(rule), true), verdictDeny
		case ActionAllow:
			return llm.ContentBlock{}, verdictAllow
		case ActionLog:
			slog.Info("toolpipeline: rule matched", "rule", rule.Name, "tool", call.ToolName, "agent", call.AgentID)
		}
	}
	return llm.ContentBlock{}, verdictContinue
}

func denyReason(r Rule) string {
	if r.Reason != "" {
		return r.Reason
	}
	return fmt.Sprintf("denied by rule %q", r.Name)
}
