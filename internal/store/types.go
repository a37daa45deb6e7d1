// Package store persists per-agent snapshots to disk, atomically, and
// optionally mirrors device/push state to SQLite or Postgres.
package store

import (
	"time"

	"github.com/agenthub/hubd/internal/llm"
)

// StateRule binds a StateStore key to an escalation condition.
type StateRule struct {
	Key       string      `json:"key"`
	Condition string      `json:"condition"` // "always" | ">" | "<" | "==" | "changed"
	Threshold interface{} `json:"threshold,omitempty"`
	Message   string      `json:"message,omitempty"`
	EventName string      `json:"eventName,omitempty"`
}

// KVStore is the shared shape of StateStore and StorageStore: a
// string→JSON mapping with quota enforcement. Escalation rules are
// empty for StorageStore.
type KVStore struct {
	Values map[string]interface{} `json:"values"`
	Rules  []StateRule             `json:"rules,omitempty"`
}

// DomMirror is the last known DOM snapshot pushed by a write-through client.
type DomMirror struct {
	BodyHTML        string            `json:"bodyHtml"`
	HeadHTML        string            `json:"headHtml"`
	BodyAttributes  map[string]string `json:"bodyAttributes"`
	CapturedAt      time.Time         `json:"capturedAt"`
}

// ScheduleEntry is one cron or event trigger owned by a runner.
type ScheduleEntry struct {
	ID             string     `json:"id"`
	HubAgentID     string     `json:"hubAgentId"`
	Type           string     `json:"type"` // "cron" | "event"
	CronExpression string     `json:"cronExpression,omitempty"`
	EventName      string     `json:"eventName,omitempty"`
	EventCondition string     `json:"eventCondition,omitempty"`
	Message        string     `json:"message,omitempty"`
	Tool           string     `json:"tool,omitempty"`
	ToolInput      map[string]interface{} `json:"toolInput,omitempty"`
	Enabled        bool       `json:"enabled"`
	MaxRuns        int        `json:"maxRuns,omitempty"`
	RunCount       int        `json:"runCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
}

// AgentConfig is the immutable-per-turn configuration snapshot.
type AgentConfig struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Model         string                 `json:"model"`
	Provider      string                 `json:"provider"`
	SystemPrompt  string                 `json:"systemPrompt"`
	Tools         []llm.ToolDeclaration  `json:"tools"`
	MaxTokens     int                    `json:"maxTokens"`
	TokenBudget   *int64                 `json:"tokenBudget,omitempty"`
	CostBudgetUsd *float64               `json:"costBudgetUsd,omitempty"`
	NetworkPolicy *NetworkPolicy         `json:"networkPolicy,omitempty"`
	SandboxPerms  *SandboxPermissions    `json:"sandboxPermissions,omitempty"`
}

type NetworkPolicy struct {
	Mode    string   `json:"mode"` // "allow-all" | "allowlist" | "blocklist"
	Domains []string `json:"domains,omitempty"`
}

type SandboxPermissions struct {
	Camera      bool `json:"camera"`
	Microphone  bool `json:"microphone"`
	Geolocation bool `json:"geolocation"`
}

// TurnUsage is the monotonic per-runner usage accumulator.
type TurnUsage struct {
	TotalTokens int64   `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
}

// Snapshot is the full serialized state of one runner: everything
// that travels in session.json per spec.md §4.6.
type Snapshot struct {
	Config       AgentConfig             `json:"config"`
	State        string                  `json:"state"` // lifecycle state at persist time
	Conversation []llm.Message           `json:"conversation"`
	Usage        TurnUsage               `json:"usage"`
	StateStore   KVStore                 `json:"stateStore"`
	StorageStore KVStore                 `json:"storageStore"`
	Dom          *DomMirror              `json:"dom,omitempty"`
	Schedules    []ScheduleEntry         `json:"schedules,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// Info is the lightweight listing shape returned by List, avoiding a
// full snapshot read per agent.
type Info struct {
	HubAgentID string    `json:"hubAgentId"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
