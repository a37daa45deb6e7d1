package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/agenthub/hubd/internal/config"
	"github.com/agenthub/hubd/pkg/protocol"
)

// adminReadLimit bounds one admin frame's size.
const adminReadLimit = 1 << 20

// handleAdminWS serves the distinct Admin channel (spec.md §6) over
// coder/websocket — a separate library from the public gorilla/websocket
// endpoint, marking the trust boundary at the transport layer itself.
func (s *Server) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host admin origin; no browser CORS concerns
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(adminReadLimit)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	if !s.authenticateAdmin(ctx, r, conn) {
		return
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.adminWrite(ctx, conn, errFrame("", "malformed message"))
			continue
		}
		f.Raw = raw
		s.dispatchAdminMessage(ctx, conn, f, raw)
	}
}

func (s *Server) authenticateAdmin(ctx context.Context, r *http.Request, conn *websocket.Conn) bool {
	_, raw, err := conn.Read(ctx)
	if err != nil {
		return false
	}
	var req struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &req); err != nil || req.Type != protocol.MsgAdminAuth {
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAuthResult, "success": false})
		return false
	}

	addr := remoteAddr(r)
	if isLoopback(r) && s.cfg.LocalhostBypassAuth {
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAuthResult, "success": true})
		return true
	}
	if s.failedAuth.Locked("admin:" + addr) {
		s.adminWrite(ctx, conn, map[string]interface{}{
			"type": protocol.MsgAuthResult, "success": false, "error": "Too many failed attempts",
		})
		return false
	}
	if !constantTimeEqual(s.cfg.AdminToken, req.Token) {
		s.failedAuth.RecordFailure("admin:" + addr)
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAuthResult, "success": false})
		return false
	}
	s.failedAuth.Reset("admin:" + addr)
	s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAuthResult, "success": true})
	return true
}

func (s *Server) adminWrite(ctx context.Context, conn *websocket.Conn, v interface{}) {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	conn.Write(writeCtx, websocket.MessageText, mustMarshal(v))
}

func (s *Server) dispatchAdminMessage(ctx context.Context, conn *websocket.Conn, f frame, raw []byte) {
	switch f.Type {
	case protocol.MsgListAgents:
		infos, err := ListInfo(ctx, s.registry, s.agentStore)
		if err != nil {
			s.adminWrite(ctx, conn, errFrame(f.ID, err.Error()))
			return
		}
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAgentsList, "id": f.ID, "agents": infos})

	case protocol.MsgInspectAgent:
		var req struct{ AgentID string `json:"agentId"` }
		json.Unmarshal(raw, &req)
		r, ok := s.registry.Lookup(req.AgentID)
		if !ok {
			s.adminWrite(ctx, conn, errFrame(f.ID, "unknown agent"))
			return
		}
		s.adminWrite(ctx, conn, map[string]interface{}{
			"type": protocol.MsgAgentInfo, "id": f.ID, "agentId": req.AgentID,
			"state": string(r.State()), "conversation": r.GetMessageHistory(),
		})

	case protocol.MsgPauseAgent, protocol.MsgStopAgent, protocol.MsgKillAgent, protocol.MsgRemoveAgent:
		s.adminAgentAction(ctx, conn, f)

	case protocol.MsgListConnections:
		s.mu.RLock()
		ids := make([]string, 0, len(s.clients))
		for id := range s.clients {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgConnectionsList, "id": f.ID, "connections": ids})

	case protocol.MsgDisconnect:
		var req struct{ ClientID string `json:"clientId"` }
		json.Unmarshal(raw, &req)
		s.mu.RLock()
		c, ok := s.clients[req.ClientID]
		s.mu.RUnlock()
		if ok {
			c.Close()
		}
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgOk, "id": f.ID})

	case protocol.MsgGetConfig:
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgConfig, "id": f.ID, "config": redactedConfig(s.cfg)})

	case protocol.MsgReloadConfig:
		s.handleReloadConfig(ctx, conn, f.ID)

	case protocol.MsgGetAgentSchedules:
		var req struct{ AgentID string `json:"agentId"` }
		json.Unmarshal(raw, &req)
		entries := s.scheduler.GetSchedules(req.AgentID)
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAgentSchedules, "id": f.ID, "schedules": entries})

	case protocol.MsgGetAgentDom:
		var req struct{ AgentID string `json:"agentId"` }
		json.Unmarshal(raw, &req)
		r, ok := s.registry.Lookup(req.AgentID)
		if !ok {
			s.adminWrite(ctx, conn, errFrame(f.ID, "unknown agent"))
			return
		}
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgAgentDom, "id": f.ID, "dom": r.GetDomState()})

	case protocol.MsgGetStats:
		s.adminWrite(ctx, conn, map[string]interface{}{
			"type": protocol.MsgStats, "id": f.ID,
			"connections": len(s.clients), "agents": len(s.registry.List()),
		})

	case protocol.MsgListTools:
		var names []string
		if s.tools != nil {
			names = s.tools.Names()
		}
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgToolsList, "id": f.ID, "tools": names})

	case protocol.MsgSkillsReload:
		if s.skills != nil {
			if err := s.skills.Reload(ctx, s.cfg.Tools.McpServers); err != nil {
				s.adminWrite(ctx, conn, errFrame(f.ID, err.Error()))
				return
			}
		}
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgOk, "id": f.ID})

	case protocol.MsgNuke:
		for _, r := range s.registry.List() {
			s.registry.Remove(r.ID())
		}
		s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgOk, "id": f.ID})

	default:
		s.adminWrite(ctx, conn, errFrame(f.ID, fmt.Sprintf("unknown admin message type %q", f.Type)))
	}
}

func (s *Server) adminAgentAction(ctx context.Context, conn *websocket.Conn, f frame) {
	var req struct{ AgentID string `json:"agentId"` }
	json.Unmarshal(f.Raw, &req)
	r, ok := s.registry.Lookup(req.AgentID)
	if !ok && f.Type != protocol.MsgRemoveAgent {
		s.adminWrite(ctx, conn, errFrame(f.ID, "unknown agent"))
		return
	}

	var err error
	switch f.Type {
	case protocol.MsgPauseAgent:
		err = r.Pause(ctx)
	case protocol.MsgStopAgent:
		err = r.Stop(ctx)
	case protocol.MsgKillAgent:
		err = r.Kill(ctx)
	case protocol.MsgRemoveAgent:
		s.registry.Remove(req.AgentID)
	}
	if err != nil {
		s.adminWrite(ctx, conn, errFrame(f.ID, err.Error()))
		return
	}
	s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgOk, "id": f.ID})
}

func (s *Server) handleReloadConfig(ctx context.Context, conn *websocket.Conn, id string) {
	newCfg, err := reloadConfigFile(s.configPath)
	if err != nil {
		s.adminWrite(ctx, conn, errFrame(id, err.Error()))
		return
	}
	s.mu.Lock()
	s.cfg = newCfg
	s.rpcLimiter = NewRPCLimiter(newCfg.Gateway.RateLimitRpm)
	s.mu.Unlock()
	if s.skills != nil {
		go func() {
			reloadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.skills.Reload(reloadCtx, newCfg.Tools.McpServers); err != nil {
				s.adminWrite(ctx, conn, errFrame("", err.Error()))
			}
		}()
	}
	s.adminWrite(ctx, conn, map[string]interface{}{"type": protocol.MsgConfigReloaded, "id": id, "config": redactedConfig(newCfg)})
}

// redactedConfig strips secrets before a config snapshot travels over
// the wire, even to an already-authenticated admin.
func redactedConfig(cfg *config.Config) *config.Config {
	redacted := *cfg
	redacted.AuthToken = ""
	redacted.AdminToken = ""
	redacted.Database.PostgresDsn = ""
	return &redacted
}
