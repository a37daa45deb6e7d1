// Package gateway implements ConnectionManager: the public client/agent
// WebSocket channel, the distinct Admin channel, authentication,
// subscription/fanout, write-through replication, push notifications,
// and intervention sessions of spec.md §4.4. Grounded on the teacher's
// internal/gateway.Server (upgrader/client-registry/rate-limiter shape),
// generalized from a single gorilla/websocket endpoint to two distinct
// transports for two trust boundaries: gorilla/websocket for clients,
// coder/websocket for Admin.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/config"
	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/scheduler"
	"github.com/agenthub/hubd/internal/skills"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/toolpipeline"
	"github.com/agenthub/hubd/pkg/protocol"
)

const sweepInterval = 5 * time.Minute

// RunnerFactory builds a new Runner for hubAgentID, optionally
// restoring it from a persisted snapshot.
type RunnerFactory func(hubAgentID string, snap *store.Snapshot) *runner.Runner

// Server is the ConnectionManager: it owns the agent registry, the
// scheduler, both WS endpoints, and every shared table design note §9
// calls out (failed-auth, device state, intervention).
type Server struct {
	cfg        *config.Config
	configPath string

	agentStore store.AgentStore
	registry   *AgentRegistry
	scheduler  *scheduler.Scheduler
	tools      *toolpipeline.Registry
	skills     *skills.Manager
	bus        *bus.Publisher
	newRunner  RunnerFactory

	failedAuth     *FailedAuthTable
	rpcLimiter     *RPCLimiter
	devices        *DeviceManager
	intervene      *InterveneManager

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer      *http.Server
	adminHTTPServer *http.Server
}

// Deps bundles Server's constructor dependencies.
type Deps struct {
	Config     *config.Config
	ConfigPath string // empty disables the fsnotify hot-reload watcher
	AgentStore store.AgentStore
	Registry   *AgentRegistry
	Scheduler  *scheduler.Scheduler
	Tools      *toolpipeline.Registry
	Skills     *skills.Manager
	Bus        *bus.Publisher
	NewRunner  RunnerFactory
	Devices    store.DeviceStore
	PushSink   PushSink
}

func NewServer(d Deps) *Server {
	s := &Server{
		cfg:        d.Config,
		configPath: d.ConfigPath,
		agentStore: d.AgentStore,
		registry:   d.Registry,
		scheduler:  d.Scheduler,
		tools:      d.Tools,
		skills:     d.Skills,
		bus:        d.Bus,
		newRunner:  d.NewRunner,
		failedAuth: NewFailedAuthTable(d.Config.Gateway.MaxFailedAuth, d.Config.Gateway.LockoutMinutes),
		rpcLimiter: NewRPCLimiter(d.Config.Gateway.RateLimitRpm),
		devices:    NewDeviceManager(d.Devices, d.PushSink),
		intervene:  NewInterveneManager(d.Registry.Lookup),
		clients:    make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	s.bus.Subscribe("gateway", s.onBusEvent)
	return s
}

// Start begins listening on the public client endpoint and, on a
// separate listener, the Admin endpoint. Both block until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/ws", s.handleAdminWS)

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	adminAddr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.AdminPort)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.adminHTTPServer = &http.Server{Addr: adminAddr, Handler: adminMux}

	go s.sweepLoop(ctx)
	if s.configPath != "" {
		go s.watchConfig(ctx)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("gateway.listen", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway: client listener: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		slog.Info("gateway.admin_listen", "addr", adminAddr)
		if err := s.adminHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway: admin listener: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		s.adminHTTPServer.Shutdown(shutdownCtx)
	}()

	if err := <-errCh; err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	interveneTicker := time.NewTicker(time.Minute)
	defer interveneTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.failedAuth.Sweep()
			s.devices.PurgeExpired()
		case <-interveneTicker.C:
			s.intervene.Sweep()
		}
	}
}

// onBusEvent demultiplexes a runner's event/loop-event to every client
// currently subscribed to the agent it concerns, preserving per-client
// FIFO delivery order by never reordering within the send channel.
func (s *Server) onBusEvent(ev bus.Event) {
	var agentID string
	var msg interface{}

	switch payload := ev.Payload.(type) {
	case runner.Event:
		agentID = payload.AgentID
		msg = frameFor(protocol.MsgAgentEvent, payload)
	case runner.LoopEvent:
		agentID = payload.AgentID
		msg = frameFor(protocol.MsgAgentLoopEvent, payload)
	default:
		return
	}

	encoded := mustMarshal(msg)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.IsSubscribed(agentID) {
			c.Deliver(encoded)
		}
	}
}

func frameFor(msgType string, payload interface{}) map[string]interface{} {
	return map[string]interface{}{"type": msgType, "payload": payload}
}

// BroadcastNotifyUser hands a notify_user payload to
// DeviceManager.NotifyUser, which applies the active/visible
// suppression rule before PushSink. Nothing in this module calls it:
// onBusEvent does not route runner events here and cmd/hubd does not
// wire it.
func (s *Server) BroadcastNotifyUser(ctx context.Context, agentID, title, body, tag string) {
	s.devices.NotifyUser(ctx, PushPayload{Title: title, Body: body, Tag: tag, AgentID: agentID})
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.limiter().Forget(c.id)
	s.intervene.ReleaseAllForClient(c.id)
}

func newClientID() string { return uuid.NewString() }

// limiter returns the current RPC limiter under read lock; swapped by
// config reload (admin.go, watch.go).
func (s *Server) limiter() *RPCLimiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rpcLimiter
}
