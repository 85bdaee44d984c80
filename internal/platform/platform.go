// Package platform provides OS identity and path-expansion helpers shared by
// the probe layer and the action executors.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Current returns the runtime.GOOS value ("linux", "windows", "darwin", …).
func Current() string {
	return runtime.GOOS
}

// ExpandPath expands a leading "~/" and environment variables in path.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// DefaultSSHDir returns the current user's ~/.ssh directory.
func DefaultSSHDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh"
	}
	return filepath.Join(home, ".ssh")
}
