// Package manifest defines the desired-state description the engine
// converges the machine toward: one SSH identity, a set of SSH host
// aliases, and a conditional package/service set. The manifest is static,
// validated once at load time, and read-only for the rest of the run.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/provisr/internal/ageutil"
	"github.com/atomikpanda/provisr/internal/facts"
)

//go:embed default.yaml
var defaultYAML []byte

// Manifest is the top-level desired state for one machine.
type Manifest struct {
	SSH      SSH       `yaml:"ssh"`
	Packages []Package `yaml:"packages"`
	Services []Service `yaml:"services"`
}

// SSH declares the identity to provision and the host aliases to merge
// into ~/.ssh/config.
type SSH struct {
	Identity Identity `yaml:"identity"`
	Hosts    []Host   `yaml:"hosts"`
}

// Identity is the SSH key pair to ensure exists. Generation is delegated to
// the system ssh-keygen; an existing key at Path is never touched.
type Identity struct {
	Algorithm string `yaml:"algorithm"`
	Path      string `yaml:"path"`
}

// Host is one SSH config alias. Aliases must be unique within a manifest.
type Host struct {
	Alias        string `yaml:"alias"`
	Hostname     string `yaml:"hostname"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
}

// Package is one installable tool. Check is a boolean capability test (exit
// 0 means already installed) and is mandatory: it is what makes the entry
// idempotent. Install, when set, overrides the backend's default install
// command.
type Package struct {
	Name     string    `yaml:"name"`
	Check    string    `yaml:"check"`
	Install  string    `yaml:"install,omitempty"`
	Required bool      `yaml:"required,omitempty"`
	When     Predicate `yaml:"when,omitempty"`
}

// Service is a system service to enable and start.
type Service struct {
	Name     string    `yaml:"name"`
	Check    string    `yaml:"check,omitempty"`
	Enable   string    `yaml:"enable,omitempty"`
	Required bool      `yaml:"required,omitempty"`
	When     Predicate `yaml:"when,omitempty"`
}

// Predicate gates an entry on probed machine facts. An empty predicate
// always matches. DevTools tags the entry as part of the development tool
// set, which the engine can force-disable wholesale.
type Predicate struct {
	OS       []string `yaml:"os,omitempty"`
	MinRAMGB float64  `yaml:"min_ram_gb,omitempty"`
	PiModels []string `yaml:"pi_models,omitempty"`
	Desktop  *bool    `yaml:"desktop,omitempty"`
	DevTools bool     `yaml:"dev_tools,omitempty"`
}

// Matches evaluates the predicate against f. When it does not match, the
// returned reason names the first failing condition.
func (p Predicate) Matches(f facts.Facts) (ok bool, reason string) {
	if len(p.OS) > 0 && !contains(p.OS, f.OS) {
		return false, fmt.Sprintf("requires os %s, machine is %s", strings.Join(p.OS, "|"), f.OS)
	}
	if p.MinRAMGB > 0 && f.RAMGB < p.MinRAMGB {
		return false, fmt.Sprintf("requires >= %.2f GB RAM, machine has %.2f", p.MinRAMGB, f.RAMGB)
	}
	if len(p.PiModels) > 0 && !contains(p.PiModels, string(f.Pi)) {
		return false, fmt.Sprintf("requires pi model %s, machine is %s", strings.Join(p.PiModels, "|"), f.Pi)
	}
	if p.Desktop != nil && *p.Desktop != f.Desktop {
		if *p.Desktop {
			return false, "requires a desktop environment"
		}
		return false, "requires a headless machine"
	}
	return true, ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ValidationError reports a malformed manifest. It is fatal: the engine
// refuses to run any action against an invalid manifest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Problems, "; ")
}

// Validate checks the manifest invariants: unique non-empty host aliases,
// a non-empty install check on every package, and recognised Pi model names
// in predicates.
func (m *Manifest) Validate() error {
	var problems []string

	seen := map[string]bool{}
	for _, h := range m.SSH.Hosts {
		switch {
		case h.Alias == "":
			problems = append(problems, "ssh host with empty alias")
		case seen[h.Alias]:
			problems = append(problems, fmt.Sprintf("duplicate ssh host alias %q", h.Alias))
		default:
			seen[h.Alias] = true
		}
		if h.Hostname == "" {
			problems = append(problems, fmt.Sprintf("ssh host %q has no hostname", h.Alias))
		}
	}

	for _, pkg := range m.Packages {
		if pkg.Name == "" {
			problems = append(problems, "package with empty name")
		}
		if strings.TrimSpace(pkg.Check) == "" {
			problems = append(problems, fmt.Sprintf("package %q has no install check", pkg.Name))
		}
		problems = append(problems, validateModels(pkg.When, "package", pkg.Name)...)
	}

	for _, svc := range m.Services {
		if svc.Name == "" {
			problems = append(problems, "service with empty name")
		}
		problems = append(problems, validateModels(svc.When, "service", svc.Name)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateModels(p Predicate, kind, name string) []string {
	var problems []string
	for _, mdl := range p.PiModels {
		if !facts.ValidPiModel(mdl) {
			problems = append(problems, fmt.Sprintf("%s %q: unknown pi model %q", kind, name, mdl))
		}
	}
	return problems
}

// Default returns the embedded default manifest.
func Default() (Manifest, error) {
	return parse(defaultYAML)
}

// Load reads and validates a manifest file. Files ending in ".age" are
// decrypted with key first; key may be nil for plaintext manifests.
func Load(path string, key *ageutil.Key) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}
	if strings.HasSuffix(path, ".age") {
		if key == nil {
			return Manifest{}, fmt.Errorf("manifest %q is encrypted; set PROVISR_AGE_IDENTITY or PROVISR_AGE_PASSPHRASE", path)
		}
		data, err = key.Decrypt(data)
		if err != nil {
			return Manifest{}, fmt.Errorf("decrypt manifest %q: %w", path, err)
		}
	}
	return parse(data)
}

func parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, &ValidationError{Problems: []string{err.Error()}}
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// applyDefaults fills identity fields and per-host identity files so that
// manifests only need to state what differs from convention.
func (m *Manifest) applyDefaults() {
	if m.SSH.Identity.Algorithm == "" {
		m.SSH.Identity.Algorithm = "ed25519"
	}
	if m.SSH.Identity.Path == "" {
		m.SSH.Identity.Path = "~/.ssh/id_" + m.SSH.Identity.Algorithm
	}
	for i := range m.SSH.Hosts {
		if m.SSH.Hosts[i].IdentityFile == "" {
			m.SSH.Hosts[i].IdentityFile = m.SSH.Identity.Path
		}
	}
}

// Render marshals the manifest back to YAML, for `provisr manifest`.
func (m *Manifest) Render() ([]byte, error) {
	return yaml.Marshal(m)
}
