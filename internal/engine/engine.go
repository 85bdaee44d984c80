// Package engine drives one convergence run: desired state in, probed
// facts considered, actions applied through the backend, outcomes out.
// Control flow is strictly sequential and forward-only. Individual action
// failures are captured as outcomes and never abort the run; only a failure
// of the engine's own bookkeeping is fatal.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/atomikpanda/provisr/internal/audit"
	"github.com/atomikpanda/provisr/internal/backend"
	"github.com/atomikpanda/provisr/internal/color"
	"github.com/atomikpanda/provisr/internal/facts"
	"github.com/atomikpanda/provisr/internal/manifest"
	"github.com/atomikpanda/provisr/internal/platform"
	"github.com/atomikpanda/provisr/internal/report"
	"github.com/atomikpanda/provisr/internal/sshcfg"
	"github.com/atomikpanda/provisr/internal/sshkey"
)

// Engine converges one machine toward the manifest's desired state.
type Engine struct {
	Manifest manifest.Manifest
	Facts    facts.Facts
	Backend  backend.Backend
	Keygen   sshkey.Generator

	DryRun        bool
	SkipDevTools  bool
	Verbose       bool
	ActionTimeout time.Duration // 0 disables the per-action timeout

	// SSHConfigPath overrides ~/.ssh/config, for tests.
	SSHConfigPath string
	// AuditCommand is recorded on every audit entry.
	AuditCommand string

	Out io.Writer
}

// New creates an Engine with the platform backend and the real ssh-keygen.
func New(m manifest.Manifest, f facts.Facts, dryRun bool) (*Engine, error) {
	b, err := backend.ForOS(f.OS)
	if err != nil {
		return nil, err
	}
	cmd := "converge"
	if dryRun {
		cmd = "dry-run"
	}
	return &Engine{
		Manifest:     m,
		Facts:        f,
		Backend:      b,
		Keygen:       sshkey.ExecGenerator{},
		DryRun:       dryRun,
		AuditCommand: cmd,
		Out:          os.Stdout,
	}, nil
}

// Converge runs every phase in order and returns the run report. Individual
// action failures are recorded in the report, never raised; callers decide
// the exit code from the report.
func (e *Engine) Converge(ctx context.Context) *report.Report {
	rep := report.New(e.DryRun)

	e.provisionIdentity(ctx, rep)
	e.mergeSSHConfig(ctx, rep)
	e.convergePackages(ctx, rep)
	e.convergeServices(ctx, rep)

	return rep
}

// record appends the outcome to the report and the persistent audit log.
func (e *Engine) record(rep *report.Report, o report.Outcome) {
	rep.Append(o)
	audit.Log(audit.Entry{
		Command: e.AuditCommand,
		Target:  o.Target,
		Status:  string(o.Status),
		Detail:  o.Detail,
	})
	if e.Out == nil {
		return
	}
	switch o.Status {
	case report.StatusApplied:
		fmt.Fprintf(e.Out, "  %s %s\n", color.BoldGreen("->"), o.Target)
	case report.StatusFailed:
		fmt.Fprintf(e.Out, "  %s %s: %s\n", color.BoldRed("!!"), o.Target, o.Detail)
	default:
		if e.Verbose {
			fmt.Fprintf(e.Out, "  %s %s (%s)\n", color.Dim("--"), o.Target, o.Detail)
		}
	}
}

// actionCtx applies the per-action timeout, if any.
func (e *Engine) actionCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.ActionTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.ActionTimeout)
}

// --- ssh identity --------------------------------------------------------

func (e *Engine) provisionIdentity(ctx context.Context, rep *report.Report) {
	id := e.Manifest.SSH.Identity
	target := fmt.Sprintf("ssh key %s", id.Path)

	actx, cancel := e.actionCtx(ctx)
	defer cancel()
	res, err := sshkey.Ensure(actx, e.Keygen, id.Algorithm, id.Path, e.DryRun)
	switch {
	case err != nil:
		e.record(rep, report.Outcome{Target: target, Status: report.StatusFailed, Detail: err.Error(), Required: true})
	case !res.Generated:
		e.record(rep, report.Outcome{Target: target, Status: report.StatusSatisfied, Detail: "key already present", Required: true})
	default:
		detail := fmt.Sprintf("generated %s key", id.Algorithm)
		if e.DryRun {
			detail = "dry-run: would generate " + id.Algorithm + " key"
		}
		e.record(rep, report.Outcome{Target: target, Status: report.StatusApplied, Detail: detail, Required: true})
	}
}

// --- ssh config merge ------------------------------------------------------

func (e *Engine) sshConfigPath() string {
	if e.SSHConfigPath != "" {
		return e.SSHConfigPath
	}
	return filepath.Join(platform.DefaultSSHDir(), "config")
}

func (e *Engine) mergeSSHConfig(_ context.Context, rep *report.Report) {
	if len(e.Manifest.SSH.Hosts) == 0 {
		return
	}
	path := e.sshConfigPath()

	doc, err := sshcfg.Load(path)
	if err != nil {
		// Identity/config IO failures are fatal to this phase only; the run
		// continues to package convergence.
		e.record(rep, report.Outcome{Target: "ssh config", Status: report.StatusFailed, Detail: err.Error(), Required: true})
		return
	}

	for _, h := range e.Manifest.SSH.Hosts {
		target := fmt.Sprintf("ssh host %s", h.Alias)
		if doc.HasAlias(h.Alias) {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusSatisfied, Detail: "alias present, left untouched"})
			continue
		}
		doc.Append(h)
		detail := fmt.Sprintf("%s@%s", h.User, h.Hostname)
		if e.DryRun {
			detail = "dry-run: would append " + detail
		}
		e.record(rep, report.Outcome{Target: target, Status: report.StatusApplied, Detail: detail})
	}

	if !doc.Changed() || e.DryRun {
		return
	}
	if doc.NonEmpty() {
		backup, err := sshcfg.Backup(path)
		if err != nil {
			e.record(rep, report.Outcome{Target: "ssh config backup", Status: report.StatusFailed, Detail: err.Error(), Required: true})
			return // never mutate without a backup
		}
		if e.Verbose {
			fmt.Fprintf(e.Out, "  %s backed up ssh config to %s\n", color.Dim("--"), backup)
		}
	}
	if err := doc.Write(path); err != nil {
		e.record(rep, report.Outcome{Target: "ssh config write", Status: report.StatusFailed, Detail: err.Error(), Required: true})
	}
}

// --- packages and services --------------------------------------------------

// applicable evaluates an entry's predicate plus the dev-tools override.
func (e *Engine) applicable(when manifest.Predicate) (bool, string) {
	if e.SkipDevTools && when.DevTools {
		return false, "dev tools disabled for this run"
	}
	return when.Matches(e.Facts)
}

func (e *Engine) convergePackages(ctx context.Context, rep *report.Report) {
	for _, pkg := range e.Manifest.Packages {
		target := fmt.Sprintf("package %s", pkg.Name)

		if ok, reason := e.applicable(pkg.When); !ok {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusNotApplicable, Detail: reason, Required: pkg.Required})
			continue
		}

		installed, err := e.Backend.Installed(ctx, pkg)
		if err != nil {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusFailed,
				Detail: fmt.Sprintf("install check: %v", err), Required: pkg.Required})
			continue
		}
		if installed {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusSatisfied, Detail: "already installed", Required: pkg.Required})
			continue
		}
		if e.DryRun {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusApplied,
				Detail: "dry-run: would install via " + e.Backend.Name(), Required: pkg.Required})
			continue
		}

		actx, cancel := e.actionCtx(ctx)
		out, err := e.Backend.Install(actx, pkg)
		cancel()
		if err != nil {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusFailed,
				Detail: diagnostic(err, out), Required: pkg.Required})
			continue
		}
		e.record(rep, report.Outcome{Target: target, Status: report.StatusApplied,
			Detail: "installed via " + e.Backend.Name(), Required: pkg.Required})
	}
}

func (e *Engine) convergeServices(ctx context.Context, rep *report.Report) {
	for _, svc := range e.Manifest.Services {
		target := fmt.Sprintf("service %s", svc.Name)

		if ok, reason := e.applicable(svc.When); !ok {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusNotApplicable, Detail: reason, Required: svc.Required})
			continue
		}

		enabled, err := e.Backend.Enabled(ctx, svc)
		if err != nil {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusFailed,
				Detail: fmt.Sprintf("enable check: %v", err), Required: svc.Required})
			continue
		}
		if enabled {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusSatisfied, Detail: "already enabled", Required: svc.Required})
			continue
		}
		if e.DryRun {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusApplied,
				Detail: "dry-run: would enable", Required: svc.Required})
			continue
		}

		actx, cancel := e.actionCtx(ctx)
		out, err := e.Backend.Enable(actx, svc)
		cancel()
		if err != nil {
			e.record(rep, report.Outcome{Target: target, Status: report.StatusFailed,
				Detail: diagnostic(err, out), Required: svc.Required})
			continue
		}
		e.record(rep, report.Outcome{Target: target, Status: report.StatusApplied, Detail: "enabled", Required: svc.Required})
	}
}

// diagnostic folds an action error and its captured output into one line
// with enough context to retry manually.
func diagnostic(err error, out string) string {
	if out == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v: %s", err, out)
}
