package browserpool

import (
	"context"
	"testing"
	"time"
)

func newTestPool(cfg Config) *Pool {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = time.Hour
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 4
	}
	return &Pool{cfg: cfg, sessions: make(map[string]*session), stopCh: make(chan struct{})}
}

func fakeSession(agentID string) *session {
	return &session{
		agentID:     agentID,
		lastTouched: time.Now(),
		elementRefs: make(map[string]string),
	}
}

func TestMaxConcurrentSessionsEnforced(t *testing.T) {
	p := newTestPool(Config{MaxConcurrentSessions: 2})
	p.sessions["a"] = fakeSession("a")
	p.sessions["b"] = fakeSession("b")

	if _, err := p.GetOrCreate(context.Background(), "c"); err == nil {
		t.Fatal("expected GetOrCreate to refuse a new session at the configured cap")
	}
}

func TestAssignAndResolveRef(t *testing.T) {
	p := newTestPool(Config{})
	p.sessions["a"] = fakeSession("a")

	ref, err := p.AssignRef("a", "#submit")
	if err != nil {
		t.Fatal(err)
	}
	if ref != "e1" {
		t.Errorf("expected first ref to be e1, got %s", ref)
	}
	sel, ok := p.ResolveRef("a", ref)
	if !ok || sel != "#submit" {
		t.Errorf("expected to resolve %s back to #submit, got %q ok=%v", ref, sel, ok)
	}

	ref2, _ := p.AssignRef("a", "#cancel")
	if ref2 != "e2" {
		t.Errorf("expected second ref to be e2, got %s", ref2)
	}
}

func TestUpdateRefReplacesSelector(t *testing.T) {
	p := newTestPool(Config{})
	p.sessions["a"] = fakeSession("a")

	ref, _ := p.AssignRef("a", "")
	if err := p.UpdateRef("a", ref, "[data-hub-ref=\"e1\"]"); err != nil {
		t.Fatal(err)
	}
	sel, ok := p.ResolveRef("a", ref)
	if !ok || sel != `[data-hub-ref="e1"]` {
		t.Errorf("expected updated selector, got %q ok=%v", sel, ok)
	}
}

func TestUpdateRefUnknownRef(t *testing.T) {
	p := newTestPool(Config{})
	p.sessions["a"] = fakeSession("a")
	if err := p.UpdateRef("a", "e99", "#x"); err == nil {
		t.Fatal("expected error for unknown ref")
	}
}

func TestResolveRefUnknownAgent(t *testing.T) {
	p := newTestPool(Config{})
	if _, ok := p.ResolveRef("ghost", "e1"); ok {
		t.Error("expected ResolveRef to fail for an agent with no session")
	}
}

func TestRekeyTransfersSessionAndRefs(t *testing.T) {
	p := newTestPool(Config{})
	s := fakeSession("old")
	s.elementRefs["e1"] = "#thing"
	s.nextRef = 1
	p.sessions["old"] = s

	if err := p.Rekey("old", "new"); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.sessions["old"]; ok {
		t.Error("old id should no longer have a session")
	}
	moved, ok := p.sessions["new"]
	if !ok {
		t.Fatal("new id should now own the session")
	}
	if moved.elementRefs["e1"] != "#thing" {
		t.Error("element refs should travel with the session")
	}
}

func TestRekeyFailsIfTargetExists(t *testing.T) {
	p := newTestPool(Config{})
	p.sessions["old"] = fakeSession("old")
	p.sessions["new"] = fakeSession("new")
	if err := p.Rekey("old", "new"); err == nil {
		t.Fatal("expected rekey to fail when the target id already has a session")
	}
}

func TestStaleSessionDetectedAsExpired(t *testing.T) {
	p := newTestPool(Config{SessionTimeout: 10 * time.Millisecond})
	s := fakeSession("a")
	s.lastTouched = time.Now().Add(-time.Hour)
	p.sessions["a"] = s

	p.mu.Lock()
	var expired []string
	now := time.Now()
	for id, sess := range p.sessions {
		if now.Sub(sess.lastTouched) > p.cfg.SessionTimeout {
			expired = append(expired, id)
		}
	}
	p.mu.Unlock()

	if len(expired) != 1 || expired[0] != "a" {
		t.Errorf("expected session 'a' to be detected as expired, got %v", expired)
	}
}

func TestTouchSessionUpdatesLastTouched(t *testing.T) {
	p := newTestPool(Config{})
	s := fakeSession("a")
	s.lastTouched = time.Now().Add(-time.Hour)
	p.sessions["a"] = s

	p.TouchSession("a")

	if time.Since(p.sessions["a"].lastTouched) > time.Second {
		t.Error("expected TouchSession to refresh lastTouched to near-now")
	}
}
