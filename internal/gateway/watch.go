package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agenthub/hubd/internal/config"
)

// watchConfig re-reads s.configPath on write/create/rename events,
// triggering the same reload path as the Admin reload_config method.
// This is ambient ops tooling (SPEC_FULL.md §4.4), not a spec.md
// behavior change: a client never sees a reload it didn't request.
func (s *Server) watchConfig(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("gateway.config_watch.unavailable", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.configPath); err != nil {
		slog.Warn("gateway.config_watch.add_failed", "path", s.configPath, "error", err)
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				s.applyConfigReload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("gateway.config_watch.error", "error", err)
		}
	}
}

func (s *Server) applyConfigReload() {
	newCfg, err := reloadConfigFile(s.configPath)
	if err != nil {
		slog.Warn("gateway.config_watch.reload_failed", "error", err)
		return
	}
	s.mu.Lock()
	s.cfg = newCfg
	s.rpcLimiter = NewRPCLimiter(newCfg.Gateway.RateLimitRpm)
	s.mu.Unlock()
	slog.Info("gateway.config_watch.reloaded", "path", s.configPath)

	if s.skills != nil {
		reloadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.skills.Reload(reloadCtx, newCfg.Tools.McpServers); err != nil {
			slog.Warn("gateway.config_watch.skills_reload_failed", "error", err)
		}
	}
}

func reloadConfigFile(path string) (*config.Config, error) {
	return config.Load(path)
}
