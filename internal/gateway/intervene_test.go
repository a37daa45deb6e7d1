package gateway

import (
	"testing"

	"github.com/agenthub/hubd/internal/runner"
)

func lookupNone(hubAgentID string) (*runner.Runner, bool) { return nil, false }

func TestInterveneRequestGrantsAndDeniesSecond(t *testing.T) {
	m := NewInterveneManager(lookupNone)
	if !m.Request("agent-1", "client-a", InterventionVisible) {
		t.Fatal("first request should be granted")
	}
	if m.Request("agent-1", "client-b", InterventionPrivate) {
		t.Fatal("second request for the same agent should be denied")
	}
	holder, ok := m.Holder("agent-1")
	if !ok || holder != "client-a" {
		t.Fatalf("expected client-a to hold the session, got %q ok=%v", holder, ok)
	}
}

func TestInterveneReleaseAllowsNextRequest(t *testing.T) {
	m := NewInterveneManager(lookupNone)
	m.Request("agent-1", "client-a", InterventionVisible)
	m.Release("agent-1", "client-a")
	if !m.Request("agent-1", "client-b", InterventionVisible) {
		t.Fatal("expected a fresh request to succeed after release")
	}
}

func TestInterveneReleaseByWrongClientIsNoop(t *testing.T) {
	m := NewInterveneManager(lookupNone)
	m.Request("agent-1", "client-a", InterventionVisible)
	m.Release("agent-1", "client-b")
	if _, ok := m.Holder("agent-1"); !ok {
		t.Fatal("a release from a non-holder must not end the session")
	}
}

func TestInterveneJournalOnlyAppendsInVisibleMode(t *testing.T) {
	private := &interventionSession{mode: InterventionPrivate}
	private.journal("line one")
	if len(private.eventLog) != 0 {
		t.Fatal("private mode must never journal")
	}

	visible := &interventionSession{mode: InterventionVisible}
	visible.journal("line one")
	if len(visible.eventLog) != 1 {
		t.Fatal("visible mode must journal")
	}
}

func TestInterveneReleaseAllForClient(t *testing.T) {
	m := NewInterveneManager(lookupNone)
	m.Request("agent-1", "client-a", InterventionVisible)
	m.Request("agent-2", "client-a", InterventionVisible)
	m.Request("agent-3", "client-b", InterventionVisible)

	m.ReleaseAllForClient("client-a")

	if _, ok := m.Holder("agent-1"); ok {
		t.Fatal("agent-1 session should have been released")
	}
	if _, ok := m.Holder("agent-2"); ok {
		t.Fatal("agent-2 session should have been released")
	}
	if _, ok := m.Holder("agent-3"); !ok {
		t.Fatal("agent-3 belongs to a different client and must survive")
	}
}
