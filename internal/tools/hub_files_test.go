package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

type fakeAgentStore struct {
	root string
}

func (f *fakeAgentStore) Save(ctx context.Context, hubAgentID string, snap *store.Snapshot) error {
	return nil
}
func (f *fakeAgentStore) Load(ctx context.Context, hubAgentID string) (*store.Snapshot, error) {
	return nil, nil
}
func (f *fakeAgentStore) List(ctx context.Context) ([]store.Info, error) { return nil, nil }
func (f *fakeAgentStore) Delete(ctx context.Context, hubAgentID string) error { return nil }
func (f *fakeAgentStore) SaveAPIKey(ctx context.Context, hubAgentID, key string) error { return nil }
func (f *fakeAgentStore) LoadAPIKey(ctx context.Context, hubAgentID string) (string, error) {
	return "", nil
}
func (f *fakeAgentStore) FilesRoot(hubAgentID string) (string, error) {
	dir := filepath.Join(f.root, hubAgentID, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func TestHubFilesToolPackAndUnpackRoundTrip(t *testing.T) {
	as := &fakeAgentStore{root: t.TempDir()}
	tool := NewHubFilesTool(as)
	ctx := context.Background()

	writeCall := toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"action": "write", "path": "doc.txt", "content": "payload"},
	}
	if res := tool.Execute(ctx, writeCall); res.ToolResultError {
		t.Fatalf("write failed: %s", res.ToolResultText)
	}

	packRes := tool.Execute(ctx, toolpipeline.Call{AgentID: "agent-1", ToolUseID: "2", Input: map[string]interface{}{"action": "pack"}})
	if packRes.ToolResultError {
		t.Fatalf("pack failed: %s", packRes.ToolResultText)
	}

	unpackRes := tool.Execute(ctx, toolpipeline.Call{
		AgentID: "agent-2", ToolUseID: "3",
		Input: map[string]interface{}{"action": "unpack", "archive": packRes.ToolResultText},
	})
	if unpackRes.ToolResultError {
		t.Fatalf("unpack failed: %s", unpackRes.ToolResultText)
	}

	readRes := tool.Execute(ctx, toolpipeline.Call{
		AgentID: "agent-2", ToolUseID: "4",
		Input: map[string]interface{}{"action": "read", "path": "doc.txt"},
	})
	if readRes.ToolResultError || readRes.ToolResultText != "payload" {
		t.Fatalf("expected unpacked content 'payload', got %q err=%v", readRes.ToolResultText, readRes.ToolResultError)
	}
}

func TestHubFilesToolRejectsPathEscape(t *testing.T) {
	as := &fakeAgentStore{root: t.TempDir()}
	tool := NewHubFilesTool(as)
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"action": "read", "path": "../../etc/passwd"},
	})
	if !res.ToolResultError {
		t.Fatal("expected path escape to be rejected")
	}
}

func TestHubFilesToolUnknownAction(t *testing.T) {
	as := &fakeAgentStore{root: t.TempDir()}
	tool := NewHubFilesTool(as)
	res := tool.Execute(context.Background(), toolpipeline.Call{
		AgentID: "agent-1", ToolUseID: "1",
		Input: map[string]interface{}{"action": "bogus"},
	})
	if !res.ToolResultError {
		t.Fatal("expected unknown action to error")
	}
}
