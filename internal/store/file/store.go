// Package file implements store.AgentStore on the local filesystem,
// grounded on the teacher's internal/store/file package (atomic
// temp+rename writes, one directory per agent).
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agenthub/hubd/internal/store"
)

// Store is a store.AgentStore backed by a directory tree:
//
//	<root>/<hubAgentId>/session.json
//	<root>/<hubAgentId>/api-key.json   (mode 0600)
//	<root>/<hubAgentId>/files/
type Store struct {
	root string
	// mu serializes writes across all agents to avoid interleaved temp-file
	// renames; reads are unguarded since rename is atomic.
	mu sync.Mutex
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) agentDir(hubAgentID string) string {
	return filepath.Join(s.root, hubAgentID)
}

func (s *Store) Save(ctx context.Context, hubAgentID string, snap *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.agentDir(hubAgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir agent dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	return atomicWrite(filepath.Join(dir, "session.json"), data, 0o644)
}

func (s *Store) Load(ctx context.Context, hubAgentID string) (*store.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.agentDir(hubAgentID), "session.json"))
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", hubAgentID, err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: unmarshal %s: %w", hubAgentID, err)
	}
	return &snap, nil
}

func (s *Store) List(ctx context.Context) ([]store.Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	var infos []store.Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, err := s.Load(ctx, e.Name())
		if err != nil {
			continue // skip agents without a readable snapshot
		}
		infos = append(infos, store.Info{
			HubAgentID: e.Name(),
			Name:       snap.Config.Name,
			State:      snap.State,
			UpdatedAt:  snap.UpdatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].HubAgentID < infos[j].HubAgentID })
	return infos, nil
}

func (s *Store) Delete(ctx context.Context, hubAgentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.agentDir(hubAgentID)); err != nil {
		return fmt.Errorf("store: delete %s: %w", hubAgentID, err)
	}
	return nil
}

func (s *Store) SaveAPIKey(ctx context.Context, hubAgentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.agentDir(hubAgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir agent dir: %w", err)
	}
	data, err := json.Marshal(map[string]string{"apiKey": key})
	if err != nil {
		return fmt.Errorf("store: marshal api key: %w", err)
	}
	return atomicWrite(filepath.Join(dir, "api-key.json"), data, 0o600)
}

func (s *Store) LoadAPIKey(ctx context.Context, hubAgentID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.agentDir(hubAgentID), "api-key.json"))
	if err != nil {
		return "", fmt.Errorf("store: load api key %s: %w", hubAgentID, err)
	}
	var v map[string]string
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("store: unmarshal api key %s: %w", hubAgentID, err)
	}
	return v["apiKey"], nil
}

func (s *Store) FilesRoot(hubAgentID string) (string, error) {
	dir := filepath.Join(s.agentDir(hubAgentID), "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: mkdir files root: %w", err)
	}
	return dir, nil
}

// atomicWrite writes data to a temp file in the same directory as
// path, then renames it into place, so readers never observe a
// partially-written file.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}
