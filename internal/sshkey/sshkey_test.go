package sshkey

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// stubGenerator records calls and writes a marker key pair.
type stubGenerator struct {
	calls int
}

func (g *stubGenerator) Generate(ctx context.Context, algorithm, path string) error {
	g.calls++
	if err := os.WriteFile(path, []byte("PRIVATE "+algorithm), 0o600); err != nil {
		return err
	}
	return os.WriteFile(path+".pub", []byte("PUBLIC "+algorithm), 0o644)
}

func TestEnsureGeneratesWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".ssh", "id_ed25519")
	gen := &stubGenerator{}

	res, err := Ensure(context.Background(), gen, "ed25519", path, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Generated {
		t.Error("expected key generation")
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d", gen.calls)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("key file missing: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, _ := os.Stat(filepath.Dir(path))
		if info.Mode().Perm() != 0o700 {
			t.Errorf("key directory mode = %04o, want 0700", info.Mode().Perm())
		}
	}
}

func TestEnsureNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")
	sentinel := []byte("sentinel: do not touch")
	os.WriteFile(path, sentinel, 0o600)
	gen := &stubGenerator{}

	res, err := Ensure(context.Background(), gen, "ed25519", path, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Generated {
		t.Error("existing key should not be regenerated")
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
	data, _ := os.ReadFile(path)
	if string(data) != string(sentinel) {
		t.Errorf("key content changed: %q", data)
	}
}

func TestEnsureIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")
	gen := &stubGenerator{}

	if _, err := Ensure(context.Background(), gen, "ed25519", path, false); err != nil {
		t.Fatal(err)
	}
	res, err := Ensure(context.Background(), gen, "ed25519", path, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Generated {
		t.Error("second run should find the key already in place")
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestEnsureDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")
	gen := &stubGenerator{}

	res, err := Ensure(context.Background(), gen, "ed25519", path, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Generated {
		t.Error("dry-run should report a pending generation")
	}
	if gen.calls != 0 {
		t.Error("dry-run must not call the generator")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("dry-run must not create files")
	}
}
