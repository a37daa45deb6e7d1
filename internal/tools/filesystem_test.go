package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agenthub/hubd/internal/toolpipeline"
)

func TestFilesystemToolWriteThenRead(t *testing.T) {
	root := t.TempDir()
	tool, err := NewFilesystemTool([]string{root})
	if err != nil {
		t.Fatal(err)
	}

	writeCall := toolpipeline.Call{
		ToolUseID: "1",
		Input:     map[string]interface{}{"action": "write", "path": "notes.txt", "content": "hello"},
	}
	if res := tool.Execute(context.Background(), writeCall); res.ToolResultError {
		t.Fatalf("write failed: %s", res.ToolResultText)
	}

	readCall := toolpipeline.Call{
		ToolUseID: "2",
		Input:     map[string]interface{}{"action": "read", "path": "notes.txt"},
	}
	res := tool.Execute(context.Background(), readCall)
	if res.ToolResultError || res.ToolResultText != "hello" {
		t.Fatalf("expected to read back 'hello', got %q err=%v", res.ToolResultText, res.ToolResultError)
	}
}

func TestFilesystemToolAcceptsNestedParentNormalization(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool, err := NewFilesystemTool([]string{root})
	if err != nil {
		t.Fatal(err)
	}

	call := toolpipeline.Call{
		ToolUseID: "1",
		Input:     map[string]interface{}{"action": "read", "path": "a/../b.txt"},
	}
	res := tool.Execute(context.Background(), call)
	if res.ToolResultError {
		t.Fatalf("expected a/../b.txt to normalize inside root, got error: %s", res.ToolResultText)
	}
}

func TestFilesystemToolRejectsParentEscape(t *testing.T) {
	root := t.TempDir()
	tool, err := NewFilesystemTool([]string{root})
	if err != nil {
		t.Fatal(err)
	}

	call := toolpipeline.Call{
		ToolUseID: "1",
		Input:     map[string]interface{}{"action": "read", "path": "../escaped.txt"},
	}
	res := tool.Execute(context.Background(), call)
	if !res.ToolResultError {
		t.Fatal("expected ../escaped.txt to be rejected")
	}
}

func TestFilesystemToolMissingArgsError(t *testing.T) {
	root := t.TempDir()
	tool, err := NewFilesystemTool([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	res := tool.Execute(context.Background(), toolpipeline.Call{ToolUseID: "1", Input: map[string]interface{}{}})
	if !res.ToolResultError {
		t.Fatal("expected missing action/path to error")
	}
}
