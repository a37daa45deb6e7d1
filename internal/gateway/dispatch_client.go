package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/pkg/protocol"
)

// handleWS upgrades an HTTP request to the public client WebSocket
// endpoint, runs the auth handshake, then the per-connection read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	addr := remoteAddr(r)
	if s.failedAuth.Locked(addr) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	client := newClient(newClientID(), conn, addr)
	go client.writePump()
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	if !s.authenticateClient(r, client) {
		return
	}
	s.registerClient(client)

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			client.Deliver(mustMarshal(errFrame("", "malformed message")))
			continue
		}
		f.Raw = raw

		if !s.limiter().Allow(client.id) {
			client.Deliver(mustMarshal(errFrame(f.ID, "rate limit exceeded")))
			continue
		}

		s.dispatchClientMessage(ctx, client, f, raw)
	}
}

// authenticateClient consumes exactly one message, expected to be
// `auth`, applying loopback bypass, constant-time compare, and the
// failed-auth lockout table per spec.md §4.4.
func (s *Server) authenticateClient(r *http.Request, client *Client) bool {
	_, raw, err := client.conn.ReadMessage()
	if err != nil {
		return false
	}
	var req struct {
		Type  string `json:"type"`
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &req); err != nil || req.Type != protocol.MsgAuth {
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgAuthResult, "success": false}))
		return false
	}

	if isLoopback(r) && s.cfg.LocalhostBypassAuth {
		client.SetAuthenticated()
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgAuthResult, "success": true}))
		return true
	}

	if s.failedAuth.Locked(client.addr) {
		client.Deliver(mustMarshal(map[string]interface{}{
			"type": protocol.MsgAuthResult, "success": false, "error": "Too many failed attempts",
		}))
		return false
	}

	if !constantTimeEqual(s.cfg.AuthToken, req.Token) {
		s.failedAuth.RecordFailure(client.addr)
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgAuthResult, "success": false}))
		return false
	}

	s.failedAuth.Reset(client.addr)
	client.SetAuthenticated()
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgAuthResult, "success": true}))
	return true
}

func errFrame(id, message string) map[string]interface{} {
	m := map[string]interface{}{"type": protocol.MsgErr, "message": message}
	if id != "" {
		m["id"] = id
	}
	return m
}

func (s *Server) dispatchClientMessage(ctx context.Context, client *Client, f frame, raw []byte) {
	switch f.Type {
	case protocol.MsgSubscribeAgent:
		s.handleSubscribe(ctx, client, raw)
	case protocol.MsgUnsubscribeAgent:
		s.handleUnsubscribe(client, raw)
	case protocol.MsgSendMessage:
		s.handleSendMessage(ctx, client, f.ID, raw)
	case protocol.MsgAgentAction:
		s.handleAgentAction(ctx, client, f.ID, raw)
	case protocol.MsgPersistAgent:
		s.handlePersistAgent(ctx, client, f.ID, raw)
	case protocol.MsgRestoreAgent:
		s.handleRestoreAgent(ctx, client, f.ID, raw)
	case protocol.MsgListHubAgents:
		s.handleListHubAgents(ctx, client, f.ID)
	case protocol.MsgStateWriteThrough:
		s.handleStateWriteThrough(ctx, client, raw)
	case protocol.MsgDomStateUpdate:
		s.handleDomStateUpdate(client, raw)
	case protocol.MsgFileWriteThrough:
		// Acknowledged with ok only: the sender's subscription is not
		// checked and the body is not written anywhere.
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgOk, "id": f.ID}))
	case protocol.MsgPushSubscribe:
		s.handlePushSubscribe(client, f.ID, raw)
	case protocol.MsgPushVerifyPin:
		s.handlePushVerifyPin(ctx, client, f.ID, raw)
	case protocol.MsgPushUnsubscribe:
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgOk, "id": f.ID}))
	case protocol.MsgVisibilityState:
		s.handleVisibilityState(ctx, client, raw)
	case protocol.MsgInterveneRequest:
		s.handleInterveneRequest(client, f.ID, raw)
	case protocol.MsgInterveneRelease:
		s.handleInterveneRelease(client, f.ID, raw)
	case protocol.MsgInterveneJournal:
		s.handleInterveneJournal(client, f.ID, raw)
	case protocol.MsgBrowserToolResult:
		slog.Debug("gateway.browser_tool_result", "client", client.id)
	default:
		client.Deliver(mustMarshal(errFrame(f.ID, fmt.Sprintf("unknown message type %q", f.Type))))
	}
}

func (s *Server) handleSubscribe(ctx context.Context, client *Client, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	json.Unmarshal(raw, &req)
	if req.AgentID == "" {
		return
	}
	client.Subscribe(req.AgentID)
	s.sendInitialSync(ctx, client, req.AgentID)
}

func (s *Server) handleUnsubscribe(client *Client, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	json.Unmarshal(raw, &req)
	client.Unsubscribe(req.AgentID)
}

// sendInitialSync delivers lifecycle state, conversation history, and
// the DOM mirror immediately after a successful subscribe, per
// spec.md §4.4.
func (s *Server) sendInitialSync(ctx context.Context, client *Client, agentID string) {
	r, ok := s.registry.Lookup(agentID)
	if !ok {
		return
	}
	client.Deliver(mustMarshal(map[string]interface{}{
		"type": protocol.MsgAgentState, "agentId": agentID, "state": string(r.State()),
	}))
	client.Deliver(mustMarshal(map[string]interface{}{
		"type": protocol.MsgConversationHist, "agentId": agentID, "conversation": r.GetMessageHistory(),
	}))
	if dom := r.GetDomState(); dom != nil {
		client.Deliver(mustMarshal(map[string]interface{}{
			"type": protocol.MsgRestoreDomState, "agentId": agentID, "dom": dom,
		}))
	}
}

func (s *Server) handleSendMessage(ctx context.Context, client *Client, id string, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
		Text    string `json:"text"`
	}
	json.Unmarshal(raw, &req)
	if !s.authorizeSubscribed(client, req.AgentID, id) {
		return
	}
	r, ok := s.registry.Lookup(req.AgentID)
	if !ok {
		client.Deliver(mustMarshal(errFrame(id, "unknown agent")))
		return
	}
	start, err := r.SendMessage(ctx, req.Text)
	if err != nil {
		client.Deliver(mustMarshal(errFrame(id, err.Error())))
		return
	}
	if start != nil {
		go start()
	}
}

func (s *Server) handleAgentAction(ctx context.Context, client *Client, id string, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
		Action  string `json:"action"`
	}
	json.Unmarshal(raw, &req)
	if !s.authorizeSubscribed(client, req.AgentID, id) {
		return
	}
	r, ok := s.registry.Lookup(req.AgentID)
	if !ok {
		client.Deliver(mustMarshal(errFrame(id, "unknown agent")))
		return
	}

	var err error
	switch req.Action {
	case protocol.ActionPause:
		err = r.Pause(ctx)
	case protocol.ActionResume:
		resumeFn, resumeErr := r.Resume(ctx)
		err = resumeErr
		if resumeFn != nil {
			go resumeFn()
		}
	case protocol.ActionStop:
		err = r.Stop(ctx)
	case protocol.ActionKill:
		err = r.Kill(ctx)
	case protocol.ActionRemove:
		s.registry.Remove(req.AgentID)
	default:
		err = fmt.Errorf("unknown agent action %q", req.Action)
	}
	if err != nil {
		client.Deliver(mustMarshal(errFrame(id, err.Error())))
		return
	}
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgOk, "id": id}))
}

func (s *Server) handlePersistAgent(ctx context.Context, client *Client, id string, raw []byte) {
	var req struct {
		Session store.Snapshot `json:"session"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgPersistResult, "id": id, "success": false}))
		return
	}
	hubAgentID := fmt.Sprintf("hub-A-%s", newClientID())
	r := s.newRunner(hubAgentID, &req.Session)
	s.registry.Add(r)
	if err := s.agentStore.Save(ctx, hubAgentID, &req.Session); err != nil {
		client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgPersistResult, "id": id, "success": false}))
		return
	}
	client.Deliver(mustMarshal(map[string]interface{}{
		"type": protocol.MsgPersistResult, "id": id, "hubAgentId": hubAgentID, "success": true,
	}))
}

func (s *Server) handleRestoreAgent(ctx context.Context, client *Client, id string, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	json.Unmarshal(raw, &req)
	if !s.authorizeSubscribed(client, req.AgentID, id) {
		return
	}

	if r, ok := s.registry.Lookup(req.AgentID); ok {
		client.Deliver(mustMarshal(map[string]interface{}{
			"type": protocol.MsgRestoreSession, "id": id, "agentId": req.AgentID,
			"conversation": r.GetMessageHistory(), "state": string(r.State()),
		}))
		return
	}

	snap, err := s.agentStore.Load(ctx, req.AgentID)
	if err != nil {
		client.Deliver(mustMarshal(errFrame(id, "agent not found")))
		return
	}
	r := s.newRunner(req.AgentID, snap)
	s.registry.Add(r)
	client.Deliver(mustMarshal(map[string]interface{}{
		"type": protocol.MsgRestoreSession, "id": id, "agentId": req.AgentID,
		"conversation": r.GetMessageHistory(), "state": string(r.State()),
	}))
}

func (s *Server) handleListHubAgents(ctx context.Context, client *Client, id string) {
	infos, err := ListInfo(ctx, s.registry, s.agentStore)
	if err != nil {
		client.Deliver(mustMarshal(errFrame(id, err.Error())))
		return
	}
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgHubAgentsList, "id": id, "agents": infos}))
}

// handleStateWriteThrough implements spec.md §4.4's write-through
// replication: applied to the hub's store, then pushed to every other
// subscriber of the agent, never echoed to the sender.
func (s *Server) handleStateWriteThrough(ctx context.Context, client *Client, raw []byte) {
	var req struct {
		AgentID string      `json:"agentId"`
		Key     string      `json:"key"`
		Value   interface{} `json:"value"`
		Action  string      `json:"action"`
	}
	json.Unmarshal(raw, &req)
	if !client.IsSubscribed(req.AgentID) {
		return // AuthorizationError: silent deny, never leak existence
	}
	r, ok := s.registry.Lookup(req.AgentID)
	if !ok {
		return
	}
	if r.State() == runner.StateError {
		client.Deliver(mustMarshal(errFrame("", "agent is in an error state and cannot accept state writes")))
		return
	}

	switch req.Action {
	case "delete":
		r.DeleteStateValue(req.Key)
	default:
		if err := r.SetStateValue(req.Key, req.Value); err != nil {
			client.Deliver(mustMarshal(errFrame("", err.Error())))
			return
		}
	}

	push := mustMarshal(map[string]interface{}{
		"type": protocol.MsgStatePush, "agentId": req.AgentID,
		"key": req.Key, "value": req.Value, "action": req.Action,
	})
	s.mu.RLock()
	for _, c := range s.clients {
		if c != client && c.IsSubscribed(req.AgentID) {
			c.Deliver(push)
		}
	}
	s.mu.RUnlock()
}

func (s *Server) handleDomStateUpdate(client *Client, raw []byte) {
	var req struct {
		AgentID string         `json:"agentId"`
		Dom     store.DomMirror `json:"dom"`
	}
	json.Unmarshal(raw, &req)
	if !client.IsSubscribed(req.AgentID) {
		return
	}
	r, ok := s.registry.Lookup(req.AgentID)
	if !ok {
		return
	}
	req.Dom.CapturedAt = time.Now()
	r.SetDomState(&req.Dom)

	push := mustMarshal(map[string]interface{}{
		"type": protocol.MsgRestoreDomState, "agentId": req.AgentID, "dom": req.Dom,
	})
	s.mu.RLock()
	for _, c := range s.clients {
		if c != client && c.IsSubscribed(req.AgentID) {
			c.Deliver(push)
		}
	}
	s.mu.RUnlock()
}

func (s *Server) handlePushSubscribe(client *Client, id string, raw []byte) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	json.Unmarshal(raw, &req)
	pin, err := s.devices.BeginSubscribe(req.DeviceID)
	if err != nil {
		client.Deliver(mustMarshal(errFrame(id, err.Error())))
		return
	}
	slog.Info("gateway.push.subscribe_begin", "device", req.DeviceID)
	// The PIN goes to the device over the push transport, never over
	// this WS connection.
	if err := s.devices.sink.Send(context.Background(), req.DeviceID, PushPayload{Title: "Push verification PIN", Body: pin}); err != nil {
		client.Deliver(mustMarshal(errFrame(id, err.Error())))
		return
	}
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgPushSubscribeRes, "id": id, "ok": true}))
}

func (s *Server) handlePushVerifyPin(ctx context.Context, client *Client, id string, raw []byte) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Pin      string `json:"pin"`
	}
	json.Unmarshal(raw, &req)
	verified, err := s.devices.VerifyPIN(ctx, req.DeviceID, req.Pin)
	if err != nil {
		client.Deliver(mustMarshal(errFrame(id, err.Error())))
		return
	}
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgPushVerifyRes, "id": id, "verified": verified}))
}

func (s *Server) handleVisibilityState(ctx context.Context, client *Client, raw []byte) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Visible  bool   `json:"visible"`
	}
	json.Unmarshal(raw, &req)
	client.SetVisibility(req.DeviceID, req.Visible)
	if req.DeviceID != "" {
		s.devices.SetVisibility(ctx, req.DeviceID, true, req.Visible)
	}
}

// handleInterveneRequest grants or denies exclusive interactive control
// of an agent per spec.md §4.4: an agent already under intervention
// denies a second requester.
func (s *Server) handleInterveneRequest(client *Client, id string, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
		Mode    string `json:"mode"`
	}
	json.Unmarshal(raw, &req)
	if !s.authorizeSubscribed(client, req.AgentID, id) {
		return
	}
	mode := InterventionMode(req.Mode)
	if mode != InterventionVisible && mode != InterventionPrivate {
		mode = InterventionVisible
	}
	granted := s.intervene.Request(req.AgentID, client.id, mode)
	client.Deliver(mustMarshal(map[string]interface{}{
		"type": protocol.MsgInterveneResult, "id": id, "agentId": req.AgentID, "granted": granted,
	}))
}

// handleInterveneRelease ends the sender's intervention session on an
// agent, flushing its journal back into the conversation.
func (s *Server) handleInterveneRelease(client *Client, id string, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
	}
	json.Unmarshal(raw, &req)
	s.intervene.Release(req.AgentID, client.id)
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgOk, "id": id}))
}

// handleInterveneJournal appends one line to the sender's active
// intervention session, a no-op unless the session is in visible mode.
func (s *Server) handleInterveneJournal(client *Client, id string, raw []byte) {
	var req struct {
		AgentID string `json:"agentId"`
		Line    string `json:"line"`
	}
	json.Unmarshal(raw, &req)
	s.intervene.Journal(req.AgentID, client.id, req.Line)
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgOk, "id": id}))
}

// authorizeSubscribed denies the request silently (AuthorizationError
// per spec.md §7: never leak the agent's existence) unless client is
// currently subscribed to agentID.
func (s *Server) authorizeSubscribed(client *Client, agentID, id string) bool {
	if client.IsSubscribed(agentID) {
		return true
	}
	client.Deliver(mustMarshal(map[string]interface{}{"type": protocol.MsgOk, "id": id}))
	return false
}
