// Package protocol defines the wire-level message type constants
// shared by the hub and any client implementation. Every message is a
// JSON object carrying a `type` field drawn from these constants plus
// a type-specific payload.
package protocol

// ProtocolVersion is the wire protocol's version, reported by /health
// so clients can detect a mismatch early.
const ProtocolVersion = 1

// Client→Hub message types.
const (
	MsgAuth              = "auth"
	MsgSubscribeAgent    = "subscribe_agent"
	MsgUnsubscribeAgent  = "unsubscribe_agent"
	MsgSendMessage       = "send_message"
	MsgAgentAction       = "agent_action"
	MsgPersistAgent      = "persist_agent"
	MsgRestoreAgent      = "restore_agent"
	MsgListHubAgents     = "list_hub_agents"
	MsgStateWriteThrough = "state_write_through"
	MsgDomStateUpdate    = "dom_state_update"
	MsgFileWriteThrough  = "file_write_through"
	MsgPushSubscribe     = "push_subscribe"
	MsgPushVerifyPin     = "push_verify_pin"
	MsgPushUnsubscribe   = "push_unsubscribe"
	MsgVisibilityState   = "visibility_state"
	MsgBrowserToolResult = "browser_tool_result"
	MsgInterveneRequest  = "intervene_request"
	MsgInterveneRelease  = "intervene_release"
	MsgInterveneJournal  = "intervene_journal"
)

// AgentAction values carried by a MsgAgentAction payload's `action` field.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
	ActionKill   = "kill"
	ActionRemove = "remove"
)

// Hub→Client message types.
const (
	MsgAuthResult       = "auth_result"
	MsgAgentState       = "agent_state"
	MsgAgentEvent       = "agent_event"
	MsgAgentLoopEvent   = "agent_loop_event"
	MsgConversationHist = "conversation_history"
	MsgRestoreDomState  = "restore_dom_state"
	MsgStatePush        = "state_push"
	MsgFilePush         = "file_push"
	MsgPersistResult    = "persist_result"
	MsgRestoreSession   = "restore_session"
	MsgHubAgentsList    = "hub_agents_list"
	MsgBrowserToolReq   = "browser_tool_request"
	MsgPushSubscribeRes = "push_subscribe_result"
	MsgPushVerifyRes    = "push_verify_result"
	MsgVapidPublicKey   = "vapid_public_key"
	MsgInterveneResult  = "intervene_result"
)

// Admin→Hub message types, carried over the distinct admin endpoint
// and admin token (never accepted on the client channel).
const (
	MsgAdminAuth         = "admin_auth"
	MsgListAgents        = "list_agents"
	MsgInspectAgent      = "inspect_agent"
	MsgPauseAgent        = "pause_agent"
	MsgStopAgent         = "stop_agent"
	MsgKillAgent         = "kill_agent"
	MsgRemoveAgent       = "remove_agent"
	MsgListConnections   = "list_connections"
	MsgDisconnect        = "disconnect"
	MsgGetConfig         = "get_config"
	MsgReloadConfig      = "reload_config"
	MsgSubscribeLogs     = "subscribe_logs"
	MsgGetStats          = "get_stats"
	MsgGetUsage          = "get_usage"
	MsgGetAgentSchedules = "get_agent_schedules"
	MsgGetAgentLog       = "get_agent_log"
	MsgGetAgentDom       = "get_agent_dom"
	MsgNuke              = "nuke"
	MsgSkillsReload      = "skills_reload"
	MsgListTools         = "list_tools"
)

// Hub→Admin message types.
const (
	MsgAgentsList      = "agents_list"
	MsgAgentInfo       = "agent_info"
	MsgConnectionsList = "connections_list"
	MsgConfig          = "config"
	MsgConfigReloaded  = "config_reloaded"
	MsgLogEntry        = "log_entry"
	MsgStats           = "stats"
	MsgUsage           = "usage"
	MsgAgentSchedules  = "agent_schedules"
	MsgAgentLog        = "agent_log"
	MsgAgentDom        = "agent_dom"
	MsgToolsList       = "tools_list"
	MsgOk              = "ok"
	MsgErr             = "error"
)
