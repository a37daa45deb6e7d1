package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/store"
)

type noopTools struct{}

func (noopTools) Execute(ctx context.Context, agentID, name string, input map[string]interface{}) llm.ContentBlock {
	return llm.ToolResult("", "ok", false)
}

func newRunningRunner(id string) *runner.Runner {
	adapter := &llm.FakeAdapter{
		Responses: []llm.Response{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{llm.Text("ack")}}, StopReason: llm.StopEndTurn},
		},
	}
	r := runner.New(id, runner.Config{
		AgentConfig: store.AgentConfig{ID: id},
		Send:        adapter.Send,
		Tools:       noopTools{},
		Bus:         bus.NewPublisher(),
	})
	r.Start(context.Background())
	return r
}

func TestAddScheduleValidatesExactlyOneAction(t *testing.T) {
	s := New(func(string) (*runner.Runner, bool) { return nil, false }, nil, bus.NewPublisher())
	_, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "* * * * *"})
	if err == nil {
		t.Fatal("expected error: neither message nor tool set")
	}
	_, err = s.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "* * * * *", Message: "hi", Tool: "bash"})
	if err == nil {
		t.Fatal("expected error: both message and tool set")
	}
}

func TestAddScheduleRejectsInvalidCron(t *testing.T) {
	s := New(func(string) (*runner.Runner, bool) { return nil, false }, nil, bus.NewPublisher())
	_, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "99 * * * *", Message: "hi"})
	if err == nil {
		t.Fatal("expected error for out-of-range minute field")
	}
}

func TestAddScheduleEnforcesPerAgentCap(t *testing.T) {
	s := New(func(string) (*runner.Runner, bool) { return nil, false }, nil, bus.NewPublisher())
	for i := 0; i < maxEntriesPerAgent; i++ {
		if _, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "* * * * *", Message: "hi"}); err != nil {
			t.Fatalf("unexpected error on entry %d: %v", i, err)
		}
	}
	if _, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "* * * * *", Message: "hi"}); err == nil {
		t.Fatal("expected cap error on 11th entry")
	}
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	s := New(func(string) (*runner.Runner, bool) { return nil, false }, nil, bus.NewPublisher())
	id, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "0 9 * * *", Message: "good morning"})
	if err != nil {
		t.Fatal(err)
	}

	snap := s.Serialize()

	s2 := New(func(string) (*runner.Runner, bool) { return nil, false }, nil, bus.NewPublisher())
	if err := s2.Restore(snap); err != nil {
		t.Fatal(err)
	}
	got := s2.GetSchedules("a")
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("restore mismatch: %+v", got)
	}

	// nextId continues from max(id)+1
	id2, err := s2.AddSchedule(store.ScheduleEntry{HubAgentID: "a", Type: "cron", CronExpression: "* * * * *", Message: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id {
		t.Errorf("expected a fresh id distinct from %s, got %s", id, id2)
	}
}

func TestFireEventDropsMessageTriggerWhenNotRunning(t *testing.T) {
	r := newRunningRunner("hub-a-1")
	r.Pause(context.Background())

	s := New(func(id string) (*runner.Runner, bool) {
		if id == "hub-a-1" {
			return r, true
		}
		return nil, false
	}, nil, bus.NewPublisher())

	_, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "hub-a-1", Type: "event", EventName: "ping", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	s.FireEvent(context.Background(), "ping", "hub-a-1", nil)
	time.Sleep(20 * time.Millisecond) // trigger runs in its own goroutine

	history := r.GetMessageHistory()
	if len(history) != 0 {
		t.Errorf("paused runner should not receive scheduler message, got %d messages", len(history))
	}
}

func TestFireEventDeliversMessageWhenRunning(t *testing.T) {
	r := newRunningRunner("hub-a-1")

	s := New(func(id string) (*runner.Runner, bool) {
		if id == "hub-a-1" {
			return r, true
		}
		return nil, false
	}, nil, bus.NewPublisher())

	_, err := s.AddSchedule(store.ScheduleEntry{HubAgentID: "hub-a-1", Type: "event", EventName: "ping", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	s.FireEvent(context.Background(), "ping", "hub-a-1", nil)
	time.Sleep(20 * time.Millisecond)

	history := r.GetMessageHistory()
	if len(history) == 0 {
		t.Error("running runner should have received the scheduled message")
	}
}

func TestConditionGreaterThan(t *testing.T) {
	c, err := parseCondition("> 10")
	if err != nil {
		t.Fatal(err)
	}
	if !c.evaluate(15.0, nil, false) {
		t.Error("15 > 10 should match")
	}
	if c.evaluate(5.0, nil, false) {
		t.Error("5 > 10 should not match")
	}
}
