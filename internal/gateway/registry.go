package gateway

import (
	"context"
	"sync"

	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/scheduler"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/tools"
)

// AgentRegistry is the arena-style id→Runner mapping design note §9
// calls for: exclusive ownership, insertion order irrelevant, removal
// disposes of the Runner's dependent resources (schedules, browser
// session). The Scheduler and every RunnerLookup-typed tool query it by
// id rather than holding a Runner reference directly.
type AgentRegistry struct {
	mu      sync.RWMutex
	runners map[string]*runner.Runner

	scheduler *scheduler.Scheduler
	closeBrowserSession func(agentID string)
}

func NewAgentRegistry(sched *scheduler.Scheduler, closeBrowserSession func(agentID string)) *AgentRegistry {
	return &AgentRegistry{
		runners:             make(map[string]*runner.Runner),
		scheduler:           sched,
		closeBrowserSession: closeBrowserSession,
	}
}

func (a *AgentRegistry) Add(r *runner.Runner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runners[r.ID()] = r
}

// Lookup satisfies both scheduler.RunnerLookup and tools.RunnerLookup —
// structurally identical function types kept distinct per package to
// avoid a dependency between runner and scheduler/tools.
func (a *AgentRegistry) Lookup(hubAgentID string) (*runner.Runner, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.runners[hubAgentID]
	return r, ok
}

var _ scheduler.RunnerLookup = (&AgentRegistry{}).Lookup
var _ tools.RunnerLookup = (&AgentRegistry{}).Lookup

// Remove disposes of a Runner's resources and drops it from the
// registry. It does not delete the agent's on-disk snapshot, and
// neither the client "remove" action nor the admin remove_agent
// handler calls AgentStore.Delete.
func (a *AgentRegistry) Remove(agentID string) {
	a.mu.Lock()
	delete(a.runners, agentID)
	a.mu.Unlock()

	if a.scheduler != nil {
		a.scheduler.RemoveAllForAgent(agentID)
	}
	if a.closeBrowserSession != nil {
		a.closeBrowserSession(agentID)
	}
}

func (a *AgentRegistry) List() []*runner.Runner {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*runner.Runner, 0, len(a.runners))
	for _, r := range a.runners {
		out = append(out, r)
	}
	return out
}

// ListInfo returns the lightweight listing shape for list_hub_agents /
// list_agents, combining live registry state with AgentStore.List for
// agents not currently loaded in memory.
func ListInfo(ctx context.Context, registry *AgentRegistry, agentStore store.AgentStore) ([]store.Info, error) {
	persisted, err := agentStore.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]*runner.Runner)
	for _, r := range registry.List() {
		live[r.ID()] = r
	}
	out := make([]store.Info, 0, len(persisted))
	for _, info := range persisted {
		if r, ok := live[info.HubAgentID]; ok {
			info.State = string(r.State())
		}
		out = append(out, info)
	}
	return out, nil
}
