// Package runner implements AgentRunner: one headless agent's
// Think → Act → Observe turn loop, grounded on the teacher's
// internal/agent.Loop.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/store"
)

// State is a Runner's lifecycle state.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
	StateKilled  State = "killed"
)

// ToolExecutor is the narrow seam the ToolPipeline satisfies: execute
// one tool_use call and return its tool_result content.
type ToolExecutor interface {
	Execute(ctx context.Context, agentID, toolName string, input map[string]interface{}) llm.ContentBlock
}

// Event is emitted on runner-state changes (state_change, message,
// error, notify_user) — see protocol.AgentEvent* constants.
type Event struct {
	Type    string
	AgentID string
	RunID   string
	Payload interface{}
}

// LoopEvent is a per-turn streaming event forwarded verbatim from the
// LLM adapter (protocol.LoopEvent* constants).
type LoopEvent struct {
	AgentID string
	RunID   string
	llm.StreamEvent
}

// Config configures a new Runner. AgentConfig is the immutable
// per-turn snapshot; mutating it via UpdateConfig never affects a
// turn already in flight (copy-on-write, read once at turn start).
type Config struct {
	AgentConfig store.AgentConfig
	Send        llm.SendApiRequestFunc
	Tools       ToolExecutor
	Store       store.AgentStore
	Bus         *bus.Publisher
	MaxTurnSteps int // tool-use iterations per turn before forced stop; 0 = 20
	Tracer      trace.Tracer // nil disables span emission
}

// Runner drives one agent's turn loop. Exactly one turn executes at a
// time; incoming messages while busy enqueue in a FIFO inbox.
type Runner struct {
	id string

	mu           sync.Mutex
	config       store.AgentConfig
	state        State
	busy         bool
	conversation []llm.Message
	usage        store.TurnUsage
	stateStore   store.KVStore
	storageStore store.KVStore
	dom          *store.DomMirror
	schedules    []store.ScheduleEntry
	inbox        []llm.Message
	createdAt    time.Time

	cancel context.CancelFunc // single cancellation token, set by kill()

	send         llm.SendApiRequestFunc
	tools        ToolExecutor
	agentStore   store.AgentStore
	bus          *bus.Publisher
	maxTurnSteps int
	tracer       trace.Tracer
}

func New(id string, cfg Config) *Runner {
	maxSteps := cfg.MaxTurnSteps
	if maxSteps <= 0 {
		maxSteps = 20
	}
	return &Runner{
		id:           id,
		config:       cfg.AgentConfig,
		state:        StatePending,
		send:         cfg.Send,
		tools:        cfg.Tools,
		agentStore:   cfg.Store,
		bus:          cfg.Bus,
		maxTurnSteps: maxSteps,
		tracer:       cfg.Tracer,
		createdAt:    time.Now(),
		stateStore:   store.KVStore{Values: map[string]interface{}{}},
		storageStore: store.KVStore{Values: map[string]interface{}{}},
	}
}

// Restore rebuilds a Runner from a persisted snapshot.
func Restore(id string, cfg Config, snap *store.Snapshot) *Runner {
	r := New(id, cfg)
	r.config = snap.Config
	r.state = State(snap.State)
	r.conversation = snap.Conversation
	r.usage = snap.Usage
	r.stateStore = snap.StateStore
	r.storageStore = snap.StorageStore
	r.dom = snap.Dom
	r.schedules = snap.Schedules
	r.createdAt = snap.CreatedAt
	return r
}

func (r *Runner) ID() string { return r.id }

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

func (r *Runner) transition(ctx context.Context, to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	if from == to {
		return
	}
	r.emit(Event{Type: "state_change", AgentID: r.id, Payload: map[string]string{"from": string(from), "to": string(to)}})
	r.persist(ctx)
}

// Start transitions pending → running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StatePending {
		r.mu.Unlock()
		return fmt.Errorf("runner: start: %s is not pending", r.id)
	}
	r.mu.Unlock()
	r.transition(ctx, StateRunning)
	return nil
}

// SendMessage appends a user message and, if the runner is idle,
// triggers a turn synchronously in the caller's goroutine via the
// returned func; if busy it enqueues and returns nil.
func (r *Runner) SendMessage(ctx context.Context, text string) (func() (*TurnResult, error), error) {
	r.mu.Lock()
	switch r.state {
	case StateStopped, StateKilled, StateError:
		r.mu.Unlock()
		return nil, fmt.Errorf("runner: send_message: %s is %s", r.id, r.state)
	}
	msg := llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.Text(text)}}
	if r.busy || r.state == StatePaused {
		r.inbox = append(r.inbox, msg)
		r.mu.Unlock()
		return nil, nil
	}
	r.busy = true
	r.conversation = append(r.conversation, msg)
	r.mu.Unlock()

	return func() (*TurnResult, error) { return r.runTurnLoop(ctx) }, nil
}

// QueueMessage appends without ever synchronously triggering a turn;
// the next turn boundary picks it up. Used by the Scheduler.
func (r *Runner) QueueMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = append(r.inbox, llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{llm.Text(text)}})
}

// AddInfoMessage appends an info-role message, visible to subscribers,
// never sent to the LLM.
func (r *Runner) AddInfoMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversation = append(r.conversation, llm.Message{Role: llm.RoleInfo, Content: []llm.ContentBlock{llm.Text(text)}})
}

// Pause transitions running → paused; a paused runner buffers
// incoming messages and skips scheduler triggers.
func (r *Runner) Pause(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("runner: pause: %s is not running", r.id)
	}
	r.mu.Unlock()
	r.transition(ctx, StatePaused)
	return nil
}

// Resume transitions paused → running and, if the inbox is non-empty
// and the runner is idle, starts the next turn.
func (r *Runner) Resume(ctx context.Context) (func() (*TurnResult, error), error) {
	r.mu.Lock()
	if r.state != StatePaused {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner: resume: %s is not paused", r.id)
	}
	r.state = StateRunning
	r.mu.Unlock()
	r.emit(Event{Type: "state_change", AgentID: r.id, Payload: map[string]string{"from": "paused", "to": "running"}})

	return r.maybeStartNext(ctx), nil
}

// Stop lets the in-flight turn complete (graceful) but does not
// dequeue further messages.
func (r *Runner) Stop(ctx context.Context) error {
	r.transition(ctx, StateStopped)
	return nil
}

// Kill sets the single cancellation token, abandoning the in-flight
// turn; started tool calls finish but their results are discarded and
// no further turn is scheduled.
func (r *Runner) Kill(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.transition(ctx, StateKilled)
	return nil
}

// UpdateConfig applies a copy-on-write configuration mutation; it is
// never observed mid-turn because runTurn reads r.config once at turn
// start under the lock.
func (r *Runner) UpdateConfig(update func(store.AgentConfig) store.AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = update(r.config)
}

func (r *Runner) GetDomState() *store.DomMirror {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dom
}

func (r *Runner) SetDomState(dom *store.DomMirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dom = dom
}

func (r *Runner) GetMessageHistory() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]llm.Message, len(r.conversation))
	copy(out, r.conversation)
	return out
}

func (r *Runner) emit(ev Event) {
	if r.bus == nil {
		return
	}
	r.bus.Broadcast(bus.Event{Name: "agent_event", Payload: ev})
}

func (r *Runner) emitLoop(ev LoopEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Broadcast(bus.Event{Name: "agent_loop_event", Payload: ev})
}

func (r *Runner) maybeStartNext(ctx context.Context) func() (*TurnResult, error) {
	r.mu.Lock()
	if r.busy || r.state != StateRunning || len(r.inbox) == 0 {
		r.mu.Unlock()
		return nil
	}
	next := r.inbox[0]
	r.inbox = r.inbox[1:]
	r.conversation = append(r.conversation, next)
	r.busy = true
	r.mu.Unlock()
	return func() (*TurnResult, error) { return r.runTurnLoop(ctx) }
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	RunID      string
	FinalText  string
	Iterations int
	Usage      store.TurnUsage
}

// runTurnLoop drives the Think → Act → Observe cycle until the turn
// yields end_turn/max_tokens/stop_sequence, then persists and, if the
// inbox is non-empty, starts the next turn.
func (r *Runner) runTurnLoop(ctx context.Context) (*TurnResult, error) {
	runID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	r.emit(Event{Type: "message", AgentID: r.id, RunID: runID, Payload: "run_started"})

	result, err := r.runTurn(turnCtx, runID)

	r.mu.Lock()
	r.busy = false
	killed := r.state == StateKilled
	r.mu.Unlock()

	if killed {
		// Discard the result of a turn abandoned by kill().
		return nil, fmt.Errorf("runner: %s killed mid-turn", r.id)
	}

	if err != nil {
		r.transition(context.Background(), StateError)
		r.emit(Event{Type: "error", AgentID: r.id, RunID: runID, Payload: err.Error()})
		return nil, err
	}

	r.persist(context.Background())

	if next := r.maybeStartNext(ctx); next != nil {
		return next()
	}
	return result, nil
}

// runTurn implements the numbered turn algorithm of spec.md §4.1.
func (r *Runner) runTurn(ctx context.Context, runID string) (*TurnResult, error) {
	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "agent.turn", trace.WithAttributes(attribute.String("agent.id", r.id)))
		defer span.End()
	}

	r.mu.Lock()
	cfg := r.config
	r.mu.Unlock()

	iterations := 0
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("runner: %s turn cancelled: %w", r.id, ctx.Err())
		default:
		}

		// 1. Budgets.
		r.mu.Lock()
		usage := r.usage
		r.mu.Unlock()
		if cfg.TokenBudget != nil && usage.TotalTokens >= *cfg.TokenBudget {
			return nil, fmt.Errorf("runner: %s token budget exhausted (%d >= %d)", r.id, usage.TotalTokens, *cfg.TokenBudget)
		}
		if cfg.CostBudgetUsd != nil && usage.TotalCost >= *cfg.CostBudgetUsd {
			return nil, fmt.Errorf("runner: %s cost budget exhausted (%.4f >= %.4f)", r.id, usage.TotalCost, *cfg.CostBudgetUsd)
		}
		iterations++
		if iterations > r.maxTurnSteps {
			return nil, fmt.Errorf("runner: %s exceeded max turn steps (%d)", r.id, r.maxTurnSteps)
		}

		// 2. Build request.
		r.mu.Lock()
		messages := make([]llm.Message, len(r.conversation))
		copy(messages, r.conversation)
		r.mu.Unlock()

		req := llm.Request{
			Provider:     cfg.Provider,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Messages:     messages,
			Tools:        cfg.Tools,
			MaxTokens:    cfg.MaxTokens,
		}

		llmSpanStart := time.Now().UTC()
		resp, err := r.send(ctx, req, func(ev llm.StreamEvent) {
			r.emitLoop(LoopEvent{AgentID: r.id, RunID: runID, StreamEvent: ev})
		})
		r.emitLLMSpan(ctx, llmSpanStart, iterations, err)
		if err != nil {
			return nil, fmt.Errorf("runner: %s LLM call failed (iteration %d): %w", r.id, iterations, err)
		}

		// 5. Accumulate usage, append assistant message.
		r.mu.Lock()
		r.usage.TotalTokens += int64(resp.Usage.TotalTokens)
		r.usage.TotalCost += resp.Usage.CostUsd
		r.conversation = append(r.conversation, resp.Message)
		r.mu.Unlock()

		if resp.StopReason != llm.StopToolUse {
			finalText := extractText(resp.Message)
			return &TurnResult{RunID: runID, FinalText: finalText, Iterations: iterations, Usage: r.usage}, nil
		}

		// 6. Dispatch each tool_use block, append a single observe message.
		toolUses := extractToolUses(resp.Message)
		results := r.executeTools(ctx, runID, toolUses)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("runner: %s turn cancelled after tool dispatch: %w", r.id, ctx.Err())
		default:
		}

		r.mu.Lock()
		r.conversation = append(r.conversation, llm.Message{Role: llm.RoleUser, Content: results})
		r.mu.Unlock()
	}
}

// executeTools runs each tool_use block, sequentially for a single
// call (no goroutine overhead) or in parallel for multiple, collecting
// results in original-call order for deterministic message ordering.
func (r *Runner) executeTools(ctx context.Context, runID string, calls []llm.ContentBlock) []llm.ContentBlock {
	r.mu.Lock()
	agentID := r.id
	r.mu.Unlock()

	if len(calls) == 1 {
		tc := calls[0]
		r.emit(Event{Type: "message", AgentID: agentID, RunID: runID, Payload: map[string]string{"tool_call": tc.ToolName}})
		toolSpanStart := time.Now().UTC()
		result := r.tools.Execute(ctx, agentID, tc.ToolName, tc.ToolInput)
		r.emitToolSpan(ctx, toolSpanStart, tc.ToolName, tc.ToolUseID)
		if result.ToolResultForID == "" {
			result.ToolResultForID = tc.ToolUseID
		}
		return []llm.ContentBlock{result}
	}

	type indexed struct {
		idx    int
		result llm.ContentBlock
	}
	resultCh := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc llm.ContentBlock) {
			defer wg.Done()
			result := r.tools.Execute(ctx, agentID, tc.ToolName, tc.ToolInput)
			if result.ToolResultForID == "" {
				result.ToolResultForID = tc.ToolUseID
			}
			resultCh <- indexed{idx: idx, result: result}
		}(i, tc)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexed, 0, len(calls))
	for ir := range resultCh {
		collected = append(collected, ir)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	out := make([]llm.ContentBlock, len(collected))
	for i, ir := range collected {
		out[i] = ir.result
	}
	return out
}

func (r *Runner) emitLLMSpan(ctx context.Context, start time.Time, iteration int, err error) {
	if r.tracer == nil {
		return
	}
	_, span := r.tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("agent.id", r.id),
		attribute.Int("iteration", iteration),
		attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
	))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func (r *Runner) emitToolSpan(ctx context.Context, start time.Time, name, toolUseID string) {
	if r.tracer == nil {
		return
	}
	_, span := r.tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("agent.id", r.id),
		attribute.String("tool", name),
		attribute.String("tool_use_id", toolUseID),
		attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
	))
	span.End()
}

func (r *Runner) persist(ctx context.Context) {
	if r.agentStore == nil {
		return
	}
	snap := r.serializeLocked()
	if err := r.agentStore.Save(ctx, r.id, snap); err != nil {
		slog.Error("runner: persist failed", "agent", r.id, "error", err)
	}
}

// Serialize returns a full persistence snapshot per spec.md §4.1.
func (r *Runner) Serialize() *store.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serializeLocked()
}

func (r *Runner) serializeLocked() *store.Snapshot {
	conv := make([]llm.Message, len(r.conversation))
	copy(conv, r.conversation)
	return &store.Snapshot{
		Config:       r.config,
		State:        string(r.state),
		Conversation: conv,
		Usage:        r.usage,
		StateStore:   r.stateStore,
		StorageStore: r.storageStore,
		Dom:          r.dom,
		Schedules:    r.schedules,
		CreatedAt:    r.createdAt,
		UpdatedAt:    time.Now(),
	}
}

func extractText(msg llm.Message) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

func extractToolUses(msg llm.Message) []llm.ContentBlock {
	var out []llm.ContentBlock
	for _, b := range msg.Content {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

// Tracer returns a package-level no-op-safe tracer helper for callers
// wiring Config.Tracer from an OTel provider.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }
