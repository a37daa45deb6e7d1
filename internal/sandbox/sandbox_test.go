package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSandboxResolvesWithinRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs, err := NewFileSandbox(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := fs.Resolve("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(dir, "a.txt"))
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestFileSandboxRejectsParentEscape(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "agent")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	fs, err := NewFileSandbox(sub)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Resolve("../outside.txt"); err == nil {
		t.Fatal("expected escape via .. to be rejected")
	}
}

func TestFileSandboxRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "escape")
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), link); err != nil {
		t.Skip("symlinks unsupported in this environment")
	}
	fs, err := NewFileSandbox(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Resolve("escape"); err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestBashSandboxDeniesDangerousCommand(t *testing.T) {
	s, err := NewBashSandbox(t.TempDir(), ModeRestricted, "", 5*time.Second, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), "rm -rf /", 0); err == nil {
		t.Fatal("expected rm -rf to be denied")
	}
}

func TestBashSandboxRunsAllowedCommand(t *testing.T) {
	s, err := NewBashSandbox(t.TempDir(), ModeRestricted, "", 5*time.Second, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background(), "echo hello", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d stderr=%s", res.ExitCode, res.Stderr)
	}
}

func TestBashSandboxClampsTimeoutOverride(t *testing.T) {
	s, err := NewBashSandbox(t.TempDir(), ModeRestricted, "", 1*time.Second, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	res, err := s.Run(context.Background(), "sleep 5", 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Error("expected command to time out")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout override should have been clamped to maxTimeout")
	}
}
