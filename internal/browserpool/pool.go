// Package browserpool manages per-agent headless browser contexts on
// top of github.com/go-rod/rod, giving each hub agent a persistent page
// it can drive via the browse tool. Grounded on the teacher's rod
// dependency (declared in go.mod for its managed-browser story) and on
// internal/sandbox's per-agent directory pattern for profile placement.
package browserpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Viewport is the default window size applied to every new page.
type Viewport struct {
	Width  int
	Height int
}

// Config controls pool-wide limits.
type Config struct {
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	Viewport              Viewport
	// ProfileRoot is the directory persistent profiles live under, one
	// subdirectory per agent. Empty means ephemeral temp profiles.
	ProfileRoot string
}

type session struct {
	agentID     string
	browser     *rod.Browser
	page        *rod.Page
	profileDir  string
	ephemeral   bool
	lastTouched time.Time
	elementRefs map[string]string // e<N> -> selector/object id
	nextRef     int
}

// Pool owns the set of live per-agent browser sessions.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*session

	stopCh  chan struct{}
	stopped bool
}

// New creates an empty pool and starts its inactivity sweeper.
func New(cfg Config) *Pool {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 4
	}
	p := &Pool{cfg: cfg, sessions: make(map[string]*session), stopCh: make(chan struct{})}
	go p.sweepLoop()
	return p
}

// GetOrCreate returns the agent's live page, launching a new browser
// context if none exists. Enforces MaxConcurrentSessions.
func (p *Pool) GetOrCreate(ctx context.Context, agentID string) (*rod.Page, error) {
	p.mu.Lock()
	if s, ok := p.sessions[agentID]; ok {
		s.lastTouched = time.Now()
		p.mu.Unlock()
		return s.page, nil
	}
	if len(p.sessions) >= p.cfg.MaxConcurrentSessions {
		p.mu.Unlock()
		return nil, fmt.Errorf("browserpool: max concurrent sessions (%d) reached", p.cfg.MaxConcurrentSessions)
	}
	p.mu.Unlock()

	s, err := p.launch(agentID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Re-check under lock: another goroutine may have created one meanwhile.
	if existing, ok := p.sessions[agentID]; ok {
		s.browser.MustClose()
		existing.lastTouched = time.Now()
		return existing.page, nil
	}
	p.sessions[agentID] = s
	return s.page, nil
}

func (p *Pool) launch(agentID string) (*session, error) {
	profileDir, ephemeral, err := p.profileDirFor(agentID)
	if err != nil {
		return nil, err
	}

	l := launcher.New().UserDataDir(profileDir).Headless(true)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browserpool: launch browser for %s: %w", agentID, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browserpool: connect to browser for %s: %w", agentID, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.MustClose()
		return nil, fmt.Errorf("browserpool: open page for %s: %w", agentID, err)
	}
	w, h := p.cfg.Viewport.Width, p.cfg.Viewport.Height
	if w <= 0 {
		w = 1280
	}
	if h <= 0 {
		h = 800
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  w,
		Height: h,
	}); err != nil {
		// Non-fatal: fall back to the browser's default viewport.
		_ = err
	}

	return &session{
		agentID:     agentID,
		browser:     browser,
		page:        page,
		profileDir:  profileDir,
		ephemeral:   ephemeral,
		lastTouched: time.Now(),
		elementRefs: make(map[string]string),
	}, nil
}

func (p *Pool) profileDirFor(agentID string) (dir string, ephemeral bool, err error) {
	if p.cfg.ProfileRoot != "" {
		dir = filepath.Join(p.cfg.ProfileRoot, agentID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("browserpool: create profile dir: %w", err)
		}
		return dir, false, nil
	}
	dir, err = os.MkdirTemp("", "hubd-browser-"+agentID+"-")
	if err != nil {
		return "", false, fmt.Errorf("browserpool: create ephemeral profile dir: %w", err)
	}
	return dir, true, nil
}

// TouchSession extends a session's inactivity TTL.
func (p *Pool) TouchSession(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[agentID]; ok {
		s.lastTouched = time.Now()
	}
}

// CloseSession releases an agent's browser context and any ephemeral
// profile directory.
func (p *Pool) CloseSession(agentID string) {
	p.mu.Lock()
	s, ok := p.sessions[agentID]
	if ok {
		delete(p.sessions, agentID)
	}
	p.mu.Unlock()
	if ok {
		p.closeSession(s)
	}
}

func (p *Pool) closeSession(s *session) {
	s.browser.MustClose()
	if s.ephemeral {
		os.RemoveAll(s.profileDir)
	}
}

// Rekey transfers a session and its element-ref map from oldID to
// newID atomically, used when a browser-local agent is promoted to a
// hub agent.
func (p *Pool) Rekey(oldID, newID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[oldID]
	if !ok {
		return fmt.Errorf("browserpool: no session for %s", oldID)
	}
	if _, exists := p.sessions[newID]; exists {
		return fmt.Errorf("browserpool: session already exists for %s", newID)
	}
	delete(p.sessions, oldID)
	s.agentID = newID
	p.sessions[newID] = s
	return nil
}

// AssignRef records an element handle and returns its opaque e<N>
// token, scoped to the agent's session.
func (p *Pool) AssignRef(agentID, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[agentID]
	if !ok {
		return "", fmt.Errorf("browserpool: no session for %s", agentID)
	}
	s.nextRef++
	ref := fmt.Sprintf("e%d", s.nextRef)
	s.elementRefs[ref] = selector
	return ref, nil
}

// UpdateRef replaces the selector stored for an already-assigned ref,
// used once an element has been tagged with an addressable attribute
// after the ref token was minted.
func (p *Pool) UpdateRef(agentID, ref, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[agentID]
	if !ok {
		return fmt.Errorf("browserpool: no session for %s", agentID)
	}
	if _, ok := s.elementRefs[ref]; !ok {
		return fmt.Errorf("browserpool: no ref %q for %s", ref, agentID)
	}
	s.elementRefs[ref] = selector
	return nil
}

// ResolveRef maps an opaque e<N> token back to its selector.
func (p *Pool) ResolveRef(agentID, ref string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[agentID]
	if !ok {
		return "", false
	}
	sel, ok := s.elementRefs[ref]
	return sel, ok
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepExpired()
		}
	}
}

func (p *Pool) sweepExpired() {
	now := time.Now()
	var expired []*session
	p.mu.Lock()
	for id, s := range p.sessions {
		if now.Sub(s.lastTouched) > p.cfg.SessionTimeout {
			expired = append(expired, s)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()
	for _, s := range expired {
		p.closeSession(s)
	}
}

// Stop halts the sweeper and closes every live session.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	for _, s := range sessions {
		p.closeSession(s)
	}
}
