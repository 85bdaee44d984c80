// Package backend abstracts the system package manager behind a narrow
// capability interface: "is it present" and "install/enable it". The engine
// never shells out directly for package work; it goes through a Backend so
// tests can substitute an in-memory implementation.
package backend

import (
	"context"
	"fmt"

	"github.com/atomikpanda/provisr/internal/manifest"
	"github.com/atomikpanda/provisr/internal/shell"
)

// Backend is the process boundary to the package manager. Installed and
// Enabled are side-effect-free; Install and Enable return the captured
// combined output as the diagnostic for the run report.
type Backend interface {
	Name() string
	Installed(ctx context.Context, pkg manifest.Package) (bool, error)
	Install(ctx context.Context, pkg manifest.Package) (string, error)
	Enabled(ctx context.Context, svc manifest.Service) (bool, error)
	Enable(ctx context.Context, svc manifest.Service) (string, error)
}

// ForOS selects the backend for a platform, once at startup.
func ForOS(goos string) (Backend, error) {
	switch goos {
	case "linux":
		return &Apt{}, nil
	case "windows":
		return &Winget{}, nil
	default:
		return nil, fmt.Errorf("no package backend for os %q", goos)
	}
}

// Apt drives apt-get on Debian-family systems. `apt-get update` runs at
// most once per Apt value, before the first install.
type Apt struct {
	updated bool
}

func (a *Apt) Name() string { return "apt" }

func (a *Apt) Installed(ctx context.Context, pkg manifest.Package) (bool, error) {
	return shell.Eval(ctx, pkg.Check)
}

func (a *Apt) Install(ctx context.Context, pkg manifest.Package) (string, error) {
	if !a.updated {
		if out, err := shell.Run(ctx, "sudo apt-get update"); err != nil {
			return out, fmt.Errorf("apt-get update: %w", err)
		}
		a.updated = true
	}
	cmd := pkg.Install
	if cmd == "" {
		cmd = fmt.Sprintf("sudo apt-get install -y %s", pkg.Name)
	}
	return shell.Run(ctx, cmd)
}

func (a *Apt) Enabled(ctx context.Context, svc manifest.Service) (bool, error) {
	check := svc.Check
	if check == "" {
		check = fmt.Sprintf("systemctl is-enabled %s", svc.Name)
	}
	return shell.Eval(ctx, check)
}

func (a *Apt) Enable(ctx context.Context, svc manifest.Service) (string, error) {
	cmd := svc.Enable
	if cmd == "" {
		cmd = fmt.Sprintf("sudo systemctl enable --now %s", svc.Name)
	}
	return shell.Run(ctx, cmd)
}

// Winget drives the Windows package manager. Service enablement maps to
// Set-Service / Start-Service.
type Winget struct{}

func (w *Winget) Name() string { return "winget" }

func (w *Winget) Installed(ctx context.Context, pkg manifest.Package) (bool, error) {
	return shell.Eval(ctx, pkg.Check)
}

func (w *Winget) Install(ctx context.Context, pkg manifest.Package) (string, error) {
	cmd := pkg.Install
	if cmd == "" {
		cmd = fmt.Sprintf("winget install --id %s -e --accept-source-agreements --accept-package-agreements", pkg.Name)
	}
	return shell.Run(ctx, cmd)
}

func (w *Winget) Enabled(ctx context.Context, svc manifest.Service) (bool, error) {
	check := svc.Check
	if check == "" {
		check = fmt.Sprintf("if ((Get-Service %s).StartType -eq 'Automatic') { exit 0 } else { exit 1 }", svc.Name)
	}
	return shell.Eval(ctx, check)
}

func (w *Winget) Enable(ctx context.Context, svc manifest.Service) (string, error) {
	cmd := svc.Enable
	if cmd == "" {
		cmd = fmt.Sprintf("Set-Service %s -StartupType Automatic; Start-Service %s", svc.Name, svc.Name)
	}
	return shell.Run(ctx, cmd)
}
