// Package scheduler autonomously wakes runners by cron expressions
// and event triggers, or executes a tool on a runner's behalf without
// an LLM turn. Grounded on the teacher's cmd/gateway_cron.go cron-lane
// dispatch; the teacher's own internal/cron package was not present in
// the retrieved pack (see DESIGN.md).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/store"
)

const maxEntriesPerAgent = 10

// ToolExecutorFunc runs a tool on an agent's behalf outside of any LLM
// turn — the Scheduler's injected ExecuteToolForAgent seam.
type ToolExecutorFunc func(ctx context.Context, agentID, tool string, input map[string]interface{}) (content string, isError bool)

// RunnerLookup resolves a hub agent id to its live Runner. The
// Scheduler holds only ids, never Runner references, per the
// arena-style lookup design note — it looks Runners up each tick.
type RunnerLookup func(hubAgentID string) (*runner.Runner, bool)

type entry struct {
	store.ScheduleEntry
	cron *cronFields
	cond *condition
}

// Scheduler owns the ScheduleEntry set and drives the tick/event loop.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry // id -> entry
	nextID  int

	lookup   RunnerLookup
	execTool ToolExecutorFunc
	bus      *bus.Publisher
	gx       gronx.Gronx

	lastMinuteKey string
	stopCh        chan struct{}
	stopped       bool
}

func New(lookup RunnerLookup, execTool ToolExecutorFunc, b *bus.Publisher) *Scheduler {
	return &Scheduler{
		entries:  make(map[string]*entry),
		lookup:   lookup,
		execTool: execTool,
		bus:      b,
		gx:       gronx.New(),
	}
}

// AddSchedule validates and registers a new entry, returning its id.
func (s *Scheduler) AddSchedule(e store.ScheduleEntry) (string, error) {
	if (e.Message == "") == (e.Tool == "") {
		return "", fmt.Errorf("scheduler: exactly one of message or tool must be set")
	}
	if e.Type != "cron" && e.Type != "event" {
		return "", fmt.Errorf("scheduler: type must be cron or event, got %q", e.Type)
	}
	if (e.Type == "cron") == (e.CronExpression == "") {
		return "", fmt.Errorf("scheduler: cron entries require cronExpression, event entries must not set it")
	}
	if (e.Type == "event") == (e.EventName == "") {
		return "", fmt.Errorf("scheduler: event entries require eventName, cron entries must not set it")
	}

	var cf *cronFields
	var cond *condition
	if e.Type == "cron" {
		if !gronx.IsValidExpr(e.CronExpression) {
			return "", fmt.Errorf("scheduler: %q rejected by gronx as invalid", e.CronExpression)
		}
		parsed, err := parseCron(e.CronExpression)
		if err != nil {
			// Fails closed: gronx and the local parser must agree.
			return "", fmt.Errorf("scheduler: %q rejected by local parser though gronx accepted it: %w", e.CronExpression, err)
		}
		cf = &parsed
	}
	if e.Type == "event" && e.EventCondition != "" {
		parsed, err := parseCondition(e.EventCondition)
		if err != nil {
			return "", err
		}
		cond = &parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, ex := range s.entries {
		if ex.HubAgentID == e.HubAgentID {
			count++
		}
	}
	if count >= maxEntriesPerAgent {
		return "", fmt.Errorf("scheduler: agent %s already has %d schedules (max %d)", e.HubAgentID, count, maxEntriesPerAgent)
	}

	s.nextID++
	id := fmt.Sprintf("%d", s.nextID)
	e.ID = id
	e.CreatedAt = time.Now()
	s.entries[id] = &entry{ScheduleEntry: e, cron: cf, cond: cond}
	return id, nil
}

func (s *Scheduler) RemoveSchedule(agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.entries[id]
	if !ok || ex.HubAgentID != agentID {
		return fmt.Errorf("scheduler: no schedule %s for agent %s", id, agentID)
	}
	delete(s.entries, id)
	return nil
}

func (s *Scheduler) setEnabled(agentID, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.entries[id]
	if !ok || ex.HubAgentID != agentID {
		return fmt.Errorf("scheduler: no schedule %s for agent %s", id, agentID)
	}
	ex.Enabled = enabled
	return nil
}

func (s *Scheduler) EnableSchedule(agentID, id string) error  { return s.setEnabled(agentID, id, true) }
func (s *Scheduler) DisableSchedule(agentID, id string) error { return s.setEnabled(agentID, id, false) }

func (s *Scheduler) RemoveAllForAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ex := range s.entries {
		if ex.HubAgentID == agentID {
			delete(s.entries, id)
		}
	}
}

func (s *Scheduler) GetSchedules(agentID string) []store.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ScheduleEntry
	for _, ex := range s.entries {
		if ex.HubAgentID == agentID {
			out = append(out, ex.ScheduleEntry)
		}
	}
	return out
}

// Serialize returns every entry for persistence round-trip.
func (s *Scheduler) Serialize() []store.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ScheduleEntry, 0, len(s.entries))
	for _, ex := range s.entries {
		out = append(out, ex.ScheduleEntry)
	}
	return out
}

// Restore rebuilds the entry set from a persisted snapshot, recompiling
// each cron/condition expression and reconstructing nextId as
// max(id)+1.
func (s *Scheduler) Restore(entries []store.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry, len(entries))
	maxID := 0
	for _, e := range entries {
		var cf *cronFields
		var cond *condition
		if e.Type == "cron" {
			parsed, err := parseCron(e.CronExpression)
			if err != nil {
				return fmt.Errorf("scheduler: restore %s: %w", e.ID, err)
			}
			cf = &parsed
		}
		if e.Type == "event" && e.EventCondition != "" {
			parsed, err := parseCondition(e.EventCondition)
			if err != nil {
				return fmt.Errorf("scheduler: restore %s: %w", e.ID, err)
			}
			cond = &parsed
		}
		s.entries[e.ID] = &entry{ScheduleEntry: e, cron: cf, cond: cond}
		var n int
		fmt.Sscanf(e.ID, "%d", &n)
		if n > maxID {
			maxID = n
		}
	}
	s.nextID = maxID
	return nil
}

// Start begins the 30s ticker loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil && !s.stopped {
		close(s.stopCh)
		s.stopped = true
	}
}

// tick computes the minute key and, if it advanced since the last
// tick, fires every enabled cron entry whose fields match — exactly
// once per wall-clock minute per entry.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	key := now.Format("200601021504")

	s.mu.Lock()
	if key == s.lastMinuteKey {
		s.mu.Unlock()
		return
	}
	s.lastMinuteKey = key

	var due []*entry
	minute, hour, dom, month, dow := now.Minute(), now.Hour(), now.Day(), int(now.Month()), int(now.Weekday())
	for _, ex := range s.entries {
		if ex.Type != "cron" || !ex.Enabled || ex.cron == nil {
			continue
		}
		if ex.cron.matches(minute, hour, dom, month, dow) {
			if isDue, err := s.gx.IsDue(ex.CronExpression, now); err == nil && !isDue {
				slog.Debug("scheduler: gronx disagrees with local field match, local parser remains authoritative",
					"schedule", ex.ID, "expr", ex.CronExpression)
			}
			due = append(due, ex)
		}
	}
	s.mu.Unlock()

	for _, ex := range due {
		// Dispatched asynchronously so a slow runner never stalls the ticker.
		go s.trigger(ctx, ex)
	}
}

// FireEvent signals an event; matching entries evaluate their
// condition against data and trigger.
func (s *Scheduler) FireEvent(ctx context.Context, eventName, agentID string, data interface{}) {
	s.mu.Lock()
	var due []*entry
	for _, ex := range s.entries {
		if ex.Type != "event" || !ex.Enabled || ex.EventName != eventName || ex.HubAgentID != agentID {
			continue
		}
		cond := condition{op: "always"}
		if ex.cond != nil {
			cond = *ex.cond
		}
		if cond.evaluate(data, nil, false) {
			due = append(due, ex)
		}
	}
	s.mu.Unlock()

	for _, ex := range due {
		go s.trigger(ctx, ex)
	}
}

// trigger advances counters and dispatches the entry's message or tool
// action, per spec.md §4.2's trigger-action table.
func (s *Scheduler) trigger(ctx context.Context, ex *entry) {
	r, ok := s.lookup(ex.HubAgentID)
	if !ok {
		return
	}

	if ex.Tool != "" {
		if r.State() != runner.StateRunning {
			return
		}
		s.advance(ex)
		content, isError := s.execTool(ctx, ex.HubAgentID, ex.Tool, ex.ToolInput)
		if isError {
			r.AddInfoMessage(fmt.Sprintf("scheduled tool %q failed: %s", ex.Tool, content))
		}
		return
	}

	// message action: dropped if not running or busy, per spec.md — don't backlog.
	if r.State() != runner.StateRunning || r.Busy() {
		return
	}
	s.advance(ex)
	run, err := r.SendMessage(ctx, ex.Message)
	if err != nil {
		slog.Warn("scheduler: send_message failed", "agent", ex.HubAgentID, "schedule", ex.ID, "error", err)
		return
	}
	if run != nil {
		if _, err := run(); err != nil {
			slog.Warn("scheduler: triggered turn failed", "agent", ex.HubAgentID, "schedule", ex.ID, "error", err)
		}
	}
}

func (s *Scheduler) advance(ex *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.entries[ex.ID]
	if !ok {
		return
	}
	live.RunCount++
	now := time.Now()
	live.LastRunAt = &now
	if live.MaxRuns > 0 && live.RunCount >= live.MaxRuns {
		live.Enabled = false
	}
}
