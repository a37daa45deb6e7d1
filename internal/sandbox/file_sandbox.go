// Package sandbox bounds filesystem and shell access to a per-agent
// root directory. Grounded on the teacher's internal/tools/filesystem.go
// (resolvePath's symlink-escape checks) and internal/tools/shell.go
// (deny-pattern list and per-command timeout).
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSandbox resolves and validates paths against an allow-listed set
// of root prefixes, rejecting symlink or ".." escapes.
type FileSandbox struct {
	roots []string
}

// NewFileSandbox builds a sandbox rooted at the given allowed prefixes.
// The first root is the default base for relative path resolution.
func NewFileSandbox(roots ...string) (*FileSandbox, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("sandbox: at least one root is required")
	}
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve root %q: %w", r, err)
		}
		cleaned = append(cleaned, abs)
	}
	return &FileSandbox{roots: cleaned}, nil
}

// Base returns the primary root, used to resolve relative paths.
func (s *FileSandbox) Base() string { return s.roots[0] }

// Resolve validates path against the sandbox roots and returns its
// canonical, symlink-resolved form. Relative paths resolve against
// Base(). Resolution follows symlinks so that a link planted inside an
// allowed root cannot point outside of it.
func (s *FileSandbox) Resolve(path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(s.Base(), path))
	}

	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("sandbox: resolve %q: %w", path, err)
		}
		// Path doesn't exist yet (e.g. a file about to be written) —
		// resolve through the deepest existing ancestor instead.
		real, err = resolveThroughAncestors(candidate)
		if err != nil {
			return "", fmt.Errorf("sandbox: resolve %q: %w", path, err)
		}
	}

	for _, root := range s.roots {
		rootReal, err := filepath.EvalSymlinks(root)
		if err != nil {
			rootReal = root
		}
		if isPathInside(real, rootReal) {
			return real, nil
		}
	}
	return "", fmt.Errorf("sandbox: path %q escapes allowed roots", path)
}

func resolveThroughAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor found for %q", target)
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if real, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
	}
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
