// Package sshkey ensures the manifest's SSH identity exists. Key generation
// is delegated to the system ssh-keygen through the Generator capability;
// an existing key is never regenerated or overwritten.
package sshkey

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/atomikpanda/provisr/internal/platform"
)

// Generator creates a key pair at path with the given algorithm and no
// passphrase. The default implementation execs ssh-keygen.
type Generator interface {
	Generate(ctx context.Context, algorithm, path string) error
}

// ExecGenerator shells out to ssh-keygen.
type ExecGenerator struct{}

func (ExecGenerator) Generate(ctx context.Context, algorithm, path string) error {
	cmd := exec.CommandContext(ctx, "ssh-keygen", "-q", "-t", algorithm, "-f", path, "-N", "")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ssh-keygen: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Result of an Ensure call.
type Result struct {
	Path      string
	Generated bool // false when the key already existed
}

// Ensure makes the key directory (owner-only) and generates the key pair if
// no private key exists at the identity path. A pre-existing key, whatever
// its content, is left untouched.
func Ensure(ctx context.Context, gen Generator, algorithm, identityPath string, dryRun bool) (Result, error) {
	path := platform.ExpandPath(identityPath)
	res := Result{Path: path}

	if _, err := os.Stat(path); err == nil {
		return res, nil // key material present; never overwrite
	} else if !os.IsNotExist(err) {
		return res, fmt.Errorf("stat key %s: %w", path, err)
	}

	if dryRun {
		res.Generated = true
		return res, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return res, fmt.Errorf("create key directory %s: %w", dir, err)
	}
	if err := gen.Generate(ctx, algorithm, path); err != nil {
		return res, err
	}
	res.Generated = true
	return res, nil
}
