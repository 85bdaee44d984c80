// Package shell evaluates manifest-supplied commands: install checks,
// install actions, and service enables.
package shell

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// Eval executes command and returns true when it exits 0 (success).
// A non-zero exit is not treated as a Go error; only execution failures are.
// Used for install checks, which are boolean capability tests.
func Eval(ctx context.Context, command string) (exitsZero bool, err error) {
	cmd := shellCmd(ctx, command)
	runErr := cmd.Run()
	if runErr == nil {
		return true, nil
	}
	if _, ok := runErr.(*exec.ExitError); ok {
		return false, nil // non-zero exit is expected and not an error
	}
	return false, runErr // real execution failure (binary not found, etc.)
}

// Run executes command and returns its combined output. A non-zero exit is
// returned as an error; the output is returned either way so callers can
// record it as the action diagnostic.
func Run(ctx context.Context, command string) (output string, err error) {
	cmd := shellCmd(ctx, command)
	out, runErr := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), runErr
}

// Output executes command and returns its trimmed stdout. Non-zero exits are
// errors. Used by probes that read a value out of a system utility.
func Output(ctx context.Context, command string) (string, error) {
	cmd := shellCmd(ctx, command)
	out, err := cmd.Output()
	return strings.TrimSpace(string(out)), err
}

func shellCmd(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "powershell", "-Command", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}
