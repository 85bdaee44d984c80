package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atomikpanda/provisr/internal/ageutil"
	"github.com/atomikpanda/provisr/internal/facts"
)

func TestDefaultManifest(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	wantAliases := []string{"pizero", "pi1", "pi2", "pi4", "pi5", "cubexx"}
	if len(m.SSH.Hosts) != len(wantAliases) {
		t.Fatalf("default manifest has %d hosts, want %d", len(m.SSH.Hosts), len(wantAliases))
	}
	for i, want := range wantAliases {
		h := m.SSH.Hosts[i]
		if h.Alias != want {
			t.Errorf("host[%d].Alias = %q, want %q", i, h.Alias, want)
		}
		if h.Hostname != want+".local" {
			t.Errorf("host[%d].Hostname = %q, want %q", i, h.Hostname, want+".local")
		}
		if h.User != "pi" {
			t.Errorf("host[%d].User = %q, want pi", i, h.User)
		}
		if h.IdentityFile == "" {
			t.Errorf("host[%d] has empty identity file after defaults", i)
		}
	}

	if m.SSH.Identity.Algorithm != "ed25519" {
		t.Errorf("identity algorithm = %q", m.SSH.Identity.Algorithm)
	}
	if len(m.Packages) == 0 {
		t.Error("default manifest should declare packages")
	}
	for _, pkg := range m.Packages {
		if strings.TrimSpace(pkg.Check) == "" {
			t.Errorf("package %q has empty check", pkg.Name)
		}
	}
}

func TestValidateDuplicateAlias(t *testing.T) {
	m := Manifest{
		SSH: SSH{Hosts: []Host{
			{Alias: "pi4", Hostname: "pi4.local"},
			{Alias: "pi4", Hostname: "other.local"},
		}},
	}
	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation error for duplicate alias")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if !strings.Contains(verr.Error(), "duplicate ssh host alias") {
		t.Errorf("error = %q", verr.Error())
	}
}

func TestValidateMissingCheck(t *testing.T) {
	m := Manifest{Packages: []Package{{Name: "git"}}}
	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing install check")
	}
	if !strings.Contains(err.Error(), "no install check") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestValidateUnknownPiModel(t *testing.T) {
	m := Manifest{Packages: []Package{{
		Name:  "x",
		Check: "command -v x",
		When:  Predicate{PiModels: []string{"three"}},
	}}}
	if err := m.Validate(); err == nil {
		t.Error("expected validation error for unknown pi model")
	}
}

func TestLoadPlaintext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.yaml")
	os.WriteFile(path, []byte(`
ssh:
  hosts:
    - alias: a
      hostname: a.local
      user: pi
packages:
  - name: git
    check: command -v git
`), 0o644)

	m, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.SSH.Hosts) != 1 || m.SSH.Hosts[0].Alias != "a" {
		t.Errorf("hosts = %+v", m.SSH.Hosts)
	}
	// Defaults fill in the identity and per-host identity files.
	if m.SSH.Identity.Path != "~/.ssh/id_ed25519" {
		t.Errorf("identity path = %q", m.SSH.Identity.Path)
	}
	if m.SSH.Hosts[0].IdentityFile != "~/.ssh/id_ed25519" {
		t.Errorf("host identity file = %q", m.SSH.Hosts[0].IdentityFile)
	}
}

func TestLoadEncrypted(t *testing.T) {
	dir := t.TempDir()
	key := &ageutil.Key{Passphrase: "pw"}
	ciphertext, err := key.Encrypt([]byte("packages:\n  - name: git\n    check: command -v git\n"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "m.yaml.age")
	os.WriteFile(path, ciphertext, 0o600)

	m, err := Load(path, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Packages) != 1 {
		t.Errorf("packages = %+v", m.Packages)
	}

	if _, err := Load(path, nil); err == nil {
		t.Error("loading encrypted manifest without a key should fail")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	os.WriteFile(path, []byte("{{not yaml"), 0o644)
	if _, err := Load(path, nil); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestPredicateMatches(t *testing.T) {
	desktop := true
	f := facts.Facts{OS: "linux", RAMGB: 4.00, Pi: facts.PiFour, Desktop: false}
	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"empty", Predicate{}, true},
		{"os match", Predicate{OS: []string{"linux"}}, true},
		{"os mismatch", Predicate{OS: []string{"windows"}}, false},
		{"ram at boundary", Predicate{MinRAMGB: 4}, true},
		{"ram above need", Predicate{MinRAMGB: 4.01}, false},
		{"pi match", Predicate{PiModels: []string{"four", "five"}}, true},
		{"pi mismatch", Predicate{PiModels: []string{"five"}}, false},
		{"desktop required", Predicate{Desktop: &desktop}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.p.Matches(f)
			if got != tt.want {
				t.Errorf("Matches() = %v (%s), want %v", got, reason, tt.want)
			}
			if !got && reason == "" {
				t.Error("non-matching predicate should explain why")
			}
		})
	}
}

func TestPredicateRAMBoundary(t *testing.T) {
	p := Predicate{MinRAMGB: 4}
	if ok, _ := p.Matches(facts.Facts{RAMGB: 3.99}); ok {
		t.Error("3.99 GB should not satisfy a 4 GB gate")
	}
	if ok, _ := p.Matches(facts.Facts{RAMGB: 4.00}); !ok {
		t.Error("4.00 GB should satisfy a 4 GB gate")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	data, err := m.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "pizero") {
		t.Error("rendered manifest should contain host aliases")
	}
}
