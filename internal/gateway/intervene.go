package gateway

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenthub/hubd/internal/runner"
)

// interventionInactivityTimeout is the default sweep expiry per
// spec.md §4.4.
const interventionInactivityTimeout = 10 * time.Minute

// InterventionMode selects whether a session's events are journaled.
type InterventionMode string

const (
	InterventionVisible InterventionMode = "visible"
	InterventionPrivate InterventionMode = "private"
)

// interventionSession is one client's exclusive control grant over an
// agent.
type interventionSession struct {
	agentID    string
	clientID   string
	mode       InterventionMode
	eventLog   []string
	lastActive time.Time
}

func (s *interventionSession) journal(line string) {
	if s.mode != InterventionVisible {
		return
	}
	s.eventLog = append(s.eventLog, line)
}

// InterveneManager grants exclusive interactive control of an agent to
// one client at a time, per spec.md §4.4. An agent already under
// intervention denies a second request; release flushes the journal
// back into the agent's conversation as an info message.
type InterveneManager struct {
	mu       sync.Mutex
	sessions map[string]*interventionSession // agentID -> active session
	lookup   runnerLookupFunc
}

type runnerLookupFunc func(hubAgentID string) (*runner.Runner, bool)

func NewInterveneManager(lookup runnerLookupFunc) *InterveneManager {
	return &InterveneManager{sessions: make(map[string]*interventionSession), lookup: lookup}
}

// Request grants intervention on agentID to clientID in the given mode,
// or reports denied if the agent is already under intervention.
func (m *InterveneManager) Request(agentID, clientID string, mode InterventionMode) (granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.sessions[agentID]; busy {
		return false
	}
	m.sessions[agentID] = &interventionSession{
		agentID:    agentID,
		clientID:   clientID,
		mode:       mode,
		lastActive: time.Now(),
	}
	return true
}

// Journal appends a line to clientID's session on agentID, if one
// exists and is in visible mode.
func (m *InterveneManager) Journal(agentID, clientID, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[agentID]
	if !ok || s.clientID != clientID {
		return
	}
	s.lastActive = time.Now()
	s.journal(line)
}

// Release ends the session clientID holds on agentID (if any),
// flushing its journal back to the agent's conversation.
func (m *InterveneManager) Release(agentID, clientID string) {
	m.mu.Lock()
	s, ok := m.sessions[agentID]
	if !ok || s.clientID != clientID {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, agentID)
	m.mu.Unlock()
	m.flush(s)
}

// ReleaseAllForClient ends every session clientID holds, called on
// client disconnect per spec.md §4.4.
func (m *InterveneManager) ReleaseAllForClient(clientID string) {
	m.mu.Lock()
	var toFlush []*interventionSession
	for agentID, s := range m.sessions {
		if s.clientID == clientID {
			toFlush = append(toFlush, s)
			delete(m.sessions, agentID)
		}
	}
	m.mu.Unlock()
	for _, s := range toFlush {
		m.flush(s)
	}
}

func (m *InterveneManager) flush(s *interventionSession) {
	r, ok := m.lookup(s.agentID)
	if !ok {
		return
	}
	header := fmt.Sprintf("[User intervention ended — %s mode]", s.mode)
	if len(s.eventLog) == 0 {
		r.AddInfoMessage(header)
		return
	}
	r.AddInfoMessage(header + "\n" + strings.Join(s.eventLog, "\n"))
}

// Sweep releases sessions idle longer than interventionInactivityTimeout.
func (m *InterveneManager) Sweep() {
	m.mu.Lock()
	now := time.Now()
	var expired []*interventionSession
	for agentID, s := range m.sessions {
		if now.Sub(s.lastActive) > interventionInactivityTimeout {
			expired = append(expired, s)
			delete(m.sessions, agentID)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		m.flush(s)
	}
}

// Holder reports the clientID currently holding intervention on
// agentID, if any.
func (m *InterveneManager) Holder(agentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[agentID]
	if !ok {
		return "", false
	}
	return s.clientID, true
}
