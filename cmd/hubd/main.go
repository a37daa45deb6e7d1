// Command hubd runs the agent hub daemon: it loads configuration,
// wires every storage/tool/runner dependency, and serves the public
// client channel and the Admin channel until a termination signal
// arrives. Grounded on the teacher's cmd/gateway.go wiring order and
// its os/signal graceful-shutdown pattern.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agenthub/hubd/internal/browserpool"
	"github.com/agenthub/hubd/internal/bus"
	"github.com/agenthub/hubd/internal/config"
	"github.com/agenthub/hubd/internal/gateway"
	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/runner"
	"github.com/agenthub/hubd/internal/sandbox"
	"github.com/agenthub/hubd/internal/scheduler"
	"github.com/agenthub/hubd/internal/skills"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/store/file"
	"github.com/agenthub/hubd/internal/store/pg"
	"github.com/agenthub/hubd/internal/store/sqlitestore"
	"github.com/agenthub/hubd/internal/toolpipeline"
	"github.com/agenthub/hubd/internal/tools"
)

const (
	exitOK            = 0
	exitGeneric       = 1
	exitConfigInvalid = 2
	exitBindFailure   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("hubd.config_load_failed", "path", cfgPath, "error", err)
		return exitGeneric
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("hubd.config_invalid", "error", err)
		return exitConfigInvalid
	}

	if err := os.MkdirAll(cfg.AgentStorePath, 0o755); err != nil {
		slog.Error("hubd.store_dir_failed", "path", cfg.AgentStorePath, "error", err)
		return exitGeneric
	}

	agentStore, err := file.New(cfg.AgentStorePath)
	if err != nil {
		slog.Error("hubd.agent_store_failed", "error", err)
		return exitGeneric
	}

	devicePath := filepath.Join(cfg.AgentStorePath, "push", "devices.db")
	if err := os.MkdirAll(filepath.Dir(devicePath), 0o755); err != nil {
		slog.Error("hubd.device_store_dir_failed", "error", err)
		return exitGeneric
	}
	deviceStore, err := sqlitestore.Open(devicePath)
	if err != nil {
		slog.Error("hubd.device_store_failed", "error", err)
		return exitGeneric
	}

	if cfg.Database.IsManaged() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		mirror, err := pg.Open(ctx, cfg.Database.PostgresDsn)
		cancel()
		if err != nil {
			slog.Error("hubd.pg_mirror_failed", "error", err)
			return exitGeneric
		}
		defer mirror.Close()
		slog.Info("hubd.pg_mirror_enabled")
	}

	msgBus := bus.NewPublisher()

	toolsRegistry := toolpipeline.NewRegistry()
	pipeline := toolpipeline.New(toolsRegistry)
	registerBuiltinTools(toolsRegistry, cfg)

	skillsMgr := skills.NewManager(toolsRegistry)
	if len(cfg.Tools.McpServers) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := skillsMgr.Reload(ctx, cfg.Tools.McpServers); err != nil {
			slog.Warn("hubd.skills_initial_load_failed", "error", err)
		}
		cancel()
	}

	var browserPool *browserpool.Pool
	if cfg.Tools.Browse.Enabled {
		browserPool = browserpool.New(browserpool.Config{
			MaxConcurrentSessions: cfg.Tools.Browse.MaxConcurrentSessions,
			SessionTimeout:        time.Duration(cfg.Tools.Browse.SessionTimeoutMinutes) * time.Minute,
			Viewport:              parseViewport(cfg.Tools.Browse.Viewport),
		})
		toolsRegistry.Register(tools.NewBrowseTool(browserPool))
	}

	// registry and sched are mutually referential (registry.Remove calls
	// into sched, sched.lookup calls into registry), so the lookup
	// closure is handed to the scheduler before registry itself exists.
	var registry *gateway.AgentRegistry
	lookup := func(hubAgentID string) (*runner.Runner, bool) { return registry.Lookup(hubAgentID) }

	execTool := func(ctx context.Context, agentID, tool string, input map[string]interface{}) (string, bool) {
		block := pipeline.Execute(ctx, agentID, tool, input)
		return contentBlockText(block)
	}

	sched := scheduler.New(lookup, execTool, msgBus)
	registry = gateway.NewAgentRegistry(sched, func(agentID string) {
		if browserPool != nil {
			browserPool.CloseSession(agentID)
		}
	})

	toolsRegistry.Register(tools.NewHubStateTool(registry.Lookup))
	toolsRegistry.Register(tools.NewHubStorageTool(registry.Lookup))
	toolsRegistry.Register(tools.NewHubRunJSTool(registry.Lookup))
	toolsRegistry.Register(tools.NewContextSearchTool(registry.Lookup))
	toolsRegistry.Register(tools.NewHubFilesTool(agentStore))
	toolsRegistry.Register(tools.NewScheduleTool(sched))

	newRunner := func(hubAgentID string, snap *store.Snapshot) *runner.Runner {
		rcfg := runner.Config{
			Send:  unconfiguredAdapter,
			Tools: pipeline,
			Store: agentStore,
			Bus:   msgBus,
		}
		if snap != nil {
			rcfg.AgentConfig = snap.Config
			return runner.Restore(hubAgentID, rcfg, snap)
		}
		return runner.New(hubAgentID, rcfg)
	}

	restoreAgents(agentStore, registry, newRunner, sched)

	srv := gateway.NewServer(gateway.Deps{
		Config:     cfg,
		ConfigPath: cfgPath,
		AgentStore: agentStore,
		Registry:   registry,
		Scheduler:  sched,
		Tools:      toolsRegistry,
		Skills:     skillsMgr,
		Bus:        msgBus,
		NewRunner:  newRunner,
		Devices:    deviceStore,
		PushSink:   gateway.NoopPushSink{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("hubd.shutdown_initiated", "signal", sig)
		for _, r := range registry.List() {
			agentStore.Save(context.Background(), r.ID(), r.Serialize())
		}
		if browserPool != nil {
			browserPool.Stop()
		}
		cancel()
	}()

	slog.Info("hubd.starting", "protocol", 1, "port", cfg.Port, "adminPort", cfg.AdminPort, "database", cfg.Database.Mode)
	if err := srv.Start(ctx); err != nil {
		slog.Error("hubd.server_error", "error", err)
		return exitBindFailure
	}
	return exitOK
}

func resolveConfigPath() string {
	if p := os.Getenv("HUBD_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hubd.json5"
	}
	return filepath.Join(home, ".hubd", "config.json5")
}

func registerBuiltinTools(registry *toolpipeline.Registry, cfg *config.Config) {
	if cfg.Tools.Bash.Enabled {
		mode := sandbox.ModeRestricted
		if cfg.Tools.Bash.Mode == "unrestricted" {
			mode = sandbox.ModeUnsafeFull
		}
		timeout := time.Duration(cfg.Tools.Bash.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		maxTimeout := time.Duration(cfg.Tools.Bash.MaxTimeoutMs) * time.Millisecond
		if maxTimeout <= 0 {
			maxTimeout = 300 * time.Second
		}
		registry.Register(tools.NewBashTool(cfg.SandboxPath, mode, cfg.Tools.Bash.RunAsUser, timeout, maxTimeout))
	}
	if cfg.Tools.Filesystem.Enabled {
		fsTool, err := tools.NewFilesystemTool(cfg.Tools.Filesystem.AllowedPaths)
		if err != nil {
			slog.Warn("hubd.filesystem_tool_disabled", "error", err)
		} else {
			registry.Register(fsTool)
		}
	}
}

func parseViewport(spec string) browserpool.Viewport {
	w, h := 1280, 800
	fmt.Sscanf(spec, "%dx%d", &w, &h)
	return browserpool.Viewport{Width: w, Height: h}
}

func contentBlockText(block llm.ContentBlock) (string, bool) {
	return block.ToolResultText, block.ToolResultError
}

// restoreAgents loads every persisted snapshot and rebuilds its Runner
// and schedule entries, so a daemon restart resumes every agent's
// lifecycle state exactly where it left off.
func restoreAgents(agentStore store.AgentStore, registry *gateway.AgentRegistry, newRunner gateway.RunnerFactory, sched *scheduler.Scheduler) {
	ctx := context.Background()
	infos, err := agentStore.List(ctx)
	if err != nil {
		slog.Warn("hubd.restore_list_failed", "error", err)
		return
	}
	for _, info := range infos {
		snap, err := agentStore.Load(ctx, info.HubAgentID)
		if err != nil {
			slog.Warn("hubd.restore_load_failed", "agent", info.HubAgentID, "error", err)
			continue
		}
		r := newRunner(info.HubAgentID, snap)
		registry.Add(r)
		for _, entry := range snap.Schedules {
			if _, err := sched.AddSchedule(entry); err != nil {
				slog.Warn("hubd.restore_schedule_failed", "agent", info.HubAgentID, "error", err)
			}
		}
	}
}

// unconfiguredAdapter is the LLM integration seam: picking a concrete
// vendor adapter (Anthropic, OpenAI, ...) is deployment configuration,
// not something this module decides, so the default refuses every
// request until an operator wires a real llm.SendApiRequestFunc.
func unconfiguredAdapter(ctx context.Context, req llm.Request, onEvent func(llm.StreamEvent)) (*llm.Response, error) {
	return nil, fmt.Errorf("hubd: no LLM adapter configured")
}
