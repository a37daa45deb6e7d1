package protocol

// Runner lifecycle states, carried in agent_state payloads.
const (
	StatePending = "pending"
	StateRunning = "running"
	StatePaused  = "paused"
	StateStopped = "stopped"
	StateError   = "error"
	StateKilled  = "killed"
)

// AgentEvent subtypes (payload.type of a MsgAgentEvent): runner-level
// lifecycle and conversation events.
const (
	AgentEventStateChange = "state_change"
	AgentEventMessage     = "message"
	AgentEventError       = "error"
	AgentEventNotifyUser  = "notify_user"
)

// AgentLoopEvent subtypes (payload.type of a MsgAgentLoopEvent):
// per-turn streaming events forwarded verbatim from the LLM adapter.
const (
	LoopEventTextDelta    = "text_delta"
	LoopEventToolUseStart = "tool_use_start"
	LoopEventToolUseDelta = "tool_use_delta"
	LoopEventToolUseStop  = "tool_use_stop"
	LoopEventToolUseDone  = "tool_use_done"
	LoopEventUsage        = "usage"
)
