package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/agenthub/hubd/internal/llm"
	"github.com/agenthub/hubd/internal/sandbox"
	"github.com/agenthub/hubd/internal/store"
	"github.com/agenthub/hubd/internal/toolpipeline"
)

// HubFilesTool is the bounded filesystem variant restricted to
// <store>/<agentId>/files/, with pack/unpack for session handoff.
// Grounded on the teacher's marketplace installer zip packing
// (archive/zip over an in-memory buffer).
type HubFilesTool struct {
	agentStore store.AgentStore

	mu        sync.Mutex
	sandboxes map[string]*sandbox.FileSandbox
}

func NewHubFilesTool(agentStore store.AgentStore) *HubFilesTool {
	return &HubFilesTool{agentStore: agentStore, sandboxes: make(map[string]*sandbox.FileSandbox)}
}

func (t *HubFilesTool) Name() string { return "hub_files" }

func (t *HubFilesTool) sandboxFor(agentID string) (*sandbox.FileSandbox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sb, ok := t.sandboxes[agentID]; ok {
		return sb, nil
	}
	root, err := t.agentStore.FilesRoot(agentID)
	if err != nil {
		return nil, err
	}
	sb, err := sandbox.NewFileSandbox(root)
	if err != nil {
		return nil, err
	}
	t.sandboxes[agentID] = sb
	return sb, nil
}

func (t *HubFilesTool) Execute(ctx context.Context, call toolpipeline.Call) llm.ContentBlock {
	action, _ := call.Input["action"].(string)
	if action == "" {
		return errorResult(call, "action is required")
	}

	sb, err := t.sandboxFor(call.AgentID)
	if err != nil {
		return errorResult(call, err.Error())
	}

	switch action {
	case "read", "write", "list", "delete", "mkdir", "stat":
		return dispatchPathAction(call, sb, action)
	case "pack":
		return t.pack(call, sb)
	case "unpack":
		return t.unpack(call, sb)
	default:
		return errorResult(call, fmt.Sprintf("unknown hub_files action %q", action))
	}
}

func dispatchPathAction(call toolpipeline.Call, sb *sandbox.FileSandbox, action string) llm.ContentBlock {
	path, _ := call.Input["path"].(string)
	if path == "" {
		return errorResult(call, "path is required")
	}
	resolved, err := sb.Resolve(path)
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
		return okResult(call, fmt.Sprintf("wrote %d bytes", len(content)))
	case "list":
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return errorResult(call, err.Error())
		}
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return okResult(call, fmt.Sprintf("%v", names))
	case "delete":
		if err := os.Remove(resolved); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "deleted")
	case "mkdir":
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, "created")
	case "stat":
		info, err := os.Stat(resolved)
		if err != nil {
			return errorResult(call, err.Error())
		}
		return okResult(call, fmt.Sprintf("size=%d isDir=%v", info.Size(), info.IsDir()))
	}
	return errorResult(call, "unreachable")
}

// pack archives the agent's entire files/ subtree into a base64-encoded
// zip, for session handoff to another hub process.
func (t *HubFilesTool) pack(call toolpipeline.Call, sb *sandbox.FileSandbox) llm.ContentBlock {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	root := sb.Base()
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return errorResult(call, fmt.Sprintf("pack: %v", err))
	}
	if err := zw.Close(); err != nil {
		return errorResult(call, fmt.Sprintf("pack: %v", err))
	}

	return okResult(call, base64.StdEncoding.EncodeToString(buf.Bytes()))
}

// unpack extracts a base64-encoded zip (as produced by pack) back into
// the agent's files/ subtree, rejecting any entry whose path would
// escape the sandbox root.
func (t *HubFilesTool) unpack(call toolpipeline.Call, sb *sandbox.FileSandbox) llm.ContentBlock {
	encoded, _ := call.Input["archive"].(string)
	if encoded == "" {
		return errorResult(call, "archive is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errorResult(call, fmt.Sprintf("unpack: invalid base64: %v", err))
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errorResult(call, fmt.Sprintf("unpack: %v", err))
	}

	count := 0
	for _, f := range zr.File {
		dest, err := sb.Resolve(f.Name)
		if err != nil {
			return errorResult(call, fmt.Sprintf("unpack: entry %q escapes sandbox: %v", f.Name, err))
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return errorResult(call, err.Error())
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errorResult(call, err.Error())
		}
		rc, err := f.Open()
		if err != nil {
			return errorResult(call, err.Error())
		}
		out, err := os.Create(dest)
		if err != nil {
			rc.Close()
			return errorResult(call, err.Error())
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return errorResult(call, copyErr.Error())
		}
		count++
	}
	return okResult(call, fmt.Sprintf("unpacked %d files", count))
}
