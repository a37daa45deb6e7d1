package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/store"
)

type fakeAgentStore struct {
	infos []store.Info
}

func (f *fakeAgentStore) Save(ctx context.Context, hubAgentID string, snap *store.Snapshot) error {
	return nil
}
func (f *fakeAgentStore) Load(ctx context.Context, hubAgentID string) (*store.Snapshot, error) {
	return nil, nil
}
func (f *fakeAgentStore) List(ctx context.Context) ([]store.Info, error) { return f.infos, nil }
func (f *fakeAgentStore) Delete(ctx context.Context, hubAgentID string) error { return nil }
func (f *fakeAgentStore) SaveAPIKey(ctx context.Context, hubAgentID, key string) error { return nil }
func (f *fakeAgentStore) LoadAPIKey(ctx context.Context, hubAgentID string) (string, error) {
	return "", nil
}

func TestAgentRegistryAddLookupRemove(t *testing.T) {
	var closed string
	reg := NewAgentRegistry(nil, func(agentID string) { closed = agentID })

	r := runner.New("agent-1", runner.Config{})
	reg.Add(r)

	got, ok := reg.Lookup("agent-1")
	if !ok || got != r {
		t.Fatal("expected Lookup to return the added runner")
	}

	reg.Remove("agent-1")
	if _, ok := reg.Lookup("agent-1"); ok {
		t.Fatal("expected runner to be gone after Remove")
	}
	if closed != "agent-1" {
		t.Fatalf("expected closeBrowserSession called with agent-1, got %q", closed)
	}
}

func TestAgentRegistryListInfoMergesLiveState(t *testing.T) {
	reg := NewAgentRegistry(nil, nil)
	r := runner.New("agent-1", runner.Config{})
	reg.Add(r)

	agentStore := &fakeAgentStore{infos: []store.Info{
		{HubAgentID: "agent-1", Name: "one", State: "stopped", UpdatedAt: time.Now()},
		{HubAgentID: "agent-2", Name: "two", State: "stopped", UpdatedAt: time.Now()},
	}}

	infos, err := ListInfo(context.Background(), reg, agentStore)
	if err != nil {
		t.Fatalf("ListInfo: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 infos, got %d", len(infos))
	}
	for _, info := range infos {
		if info.HubAgentID == "agent-1" && info.State != string(r.State()) {
			t.Fatalf("expected agent-1's state overridden by live runner state, got %q", info.State)
		}
		if info.HubAgentID == "agent-2" && info.State != "stopped" {
			t.Fatalf("expected agent-2's persisted state preserved, got %q", info.State)
		}
	}
}
