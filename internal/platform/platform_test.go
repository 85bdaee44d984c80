package platform

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	if Current() != runtime.GOOS {
		t.Errorf("Current() = %q, want %q", Current(), runtime.GOOS)
	}
}

func TestExpandPathTilde(t *testing.T) {
	got := ExpandPath("~/.ssh/config")
	if strings.HasPrefix(got, "~") {
		t.Errorf("ExpandPath left tilde in %q", got)
	}
	if filepath.Base(got) != "config" {
		t.Errorf("ExpandPath basename = %q, want config", filepath.Base(got))
	}
}

func TestExpandPathEnv(t *testing.T) {
	t.Setenv("PROVISR_TEST_DIR", "/opt/test")
	got := ExpandPath("$PROVISR_TEST_DIR/file")
	if got != "/opt/test/file" {
		t.Errorf("ExpandPath() = %q", got)
	}
}

func TestExpandPathPlain(t *testing.T) {
	if got := ExpandPath("/etc/hosts"); got != "/etc/hosts" {
		t.Errorf("ExpandPath() = %q", got)
	}
}

func TestDefaultSSHDir(t *testing.T) {
	got := DefaultSSHDir()
	if filepath.Base(got) != ".ssh" {
		t.Errorf("DefaultSSHDir() = %q", got)
	}
}
