package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/sandbox"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// FilesystemTool implements the read|write|list|delete|mkdir|stat
// actions over an allow-listed prefix set, rejecting any path escape
// after symlink resolution.
type FilesystemTool struct {
	sb *sandbox.FileSandbox
}

func NewFilesystemTool(allowedPaths []string) (*FilesystemTool, error) {
	sb, err := sandbox.NewFileSandbox(allowedPaths...)
	if err != nil {
		return nil, err
	}
	return &FilesystemTool{sb: sb}, nil
}

func (t *FilesystemTool) Name() string { return "filesystem" }

func (t *FilesystemTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	action, _ := call.Input["action"].(string)
	path, _ := call.Input["path"].(string)
	if action == "" || path == "" {
		return errorResult(call, "action and path are required")
	}

	resolved, err := t.sb.Resolve(path)
	if err != nil {
		return errorResult(call, err.Error())
	}

	switch action {
	case "read":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, string(data))

	case "write":
		content, _ := call.Input["content"].(string)
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("wrote %d bytes to %s", len(content), path))

	case "list":
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return errorResult(call, err.Error())
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return okResult(call, fmt.Sprintf("%v", names))

	case "delete":
		if err := os.Remove(resolved); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("deleted %s", path))

	case "mkdir":
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("created %s", path))

	case "stat":
		info, err := os.Stat(resolved)
		if err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("size=%d mode=%s isDir=%v modTime=%s",
			info.Size(), info.Mode(), info.IsDir(), info.ModTime()))

	default:
		return errorResult(call, fmt.Sprintf("unknown filesystem action %q", action))
	}
}
