// Package facts probes the current machine and captures the result as an
// immutable snapshot. All probes are read-only and safe to repeat; a probe
// that cannot determine a fact resolves to the conservative default (not a
// Pi, 0 GB RAM, no desktop) rather than failing the run.
package facts

import (
	"context"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/atomikpanda/provisr/internal/shell"
)

// PiModel classifies the Raspberry Pi hardware generation.
type PiModel string

const (
	PiNone      PiModel = "none" // not a Raspberry Pi
	PiZeroOrOne PiModel = "zero_or_one"
	PiTwo       PiModel = "two"
	PiFour      PiModel = "four"
	PiFive      PiModel = "five"
	PiUnknown   PiModel = "unknown" // a Pi, but not a recognised generation
)

// ValidPiModel reports whether s names a model usable in manifest predicates.
func ValidPiModel(s string) bool {
	switch PiModel(s) {
	case PiNone, PiZeroOrOne, PiTwo, PiFour, PiFive, PiUnknown:
		return true
	}
	return false
}

// Facts is the snapshot of probed machine state for one convergence run.
// Captured once at run start and never re-probed mid-run.
type Facts struct {
	OS       string  `json:"os" yaml:"os"`
	Hostname string  `json:"hostname" yaml:"hostname"`
	RAMGB    float64 `json:"ram_gb" yaml:"ram_gb"` // rounded to nearest 0.01
	Pi       PiModel `json:"pi_model" yaml:"pi_model"`
	Desktop  bool    `json:"desktop" yaml:"desktop"`
}

// Prober reads machine facts. The source paths and env lookup are fields so
// tests can point them at fixtures; zero values select the real sources.
type Prober struct {
	OS          string              // defaults to runtime.GOOS
	MeminfoPath string              // defaults to /proc/meminfo
	ModelPath   string              // defaults to /proc/device-tree/model
	Getenv      func(string) string // defaults to os.Getenv
}

// Probe captures the machine snapshot.
func (p *Prober) Probe(ctx context.Context) Facts {
	goos := p.OS
	if goos == "" {
		goos = runtime.GOOS
	}
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	f := Facts{
		OS:      goos,
		RAMGB:   p.probeRAM(ctx, goos),
		Pi:      p.probePiModel(),
		Desktop: probeDesktop(goos, getenv),
	}
	if h, err := os.Hostname(); err == nil {
		f.Hostname = h
	}
	return f
}

// probeRAM returns total memory in GiB rounded to the nearest 0.01, or 0
// when the source is unreadable. The rounding matters: RAM gates compare
// with >= against the rounded value, so 4 GiB exactly must probe as 4.00.
func (p *Prober) probeRAM(ctx context.Context, goos string) float64 {
	path := p.MeminfoPath
	if path == "" {
		path = "/proc/meminfo"
	}
	if data, err := os.ReadFile(path); err == nil {
		if kb, ok := parseMemTotalKB(string(data)); ok {
			return RoundGB(float64(kb) / (1024 * 1024))
		}
	}
	if goos == "windows" {
		out, err := shell.Output(ctx, "(Get-CimInstance Win32_ComputerSystem).TotalPhysicalMemory")
		if err == nil {
			if bytes, perr := strconv.ParseFloat(out, 64); perr == nil {
				return RoundGB(bytes / (1 << 30))
			}
		}
	}
	return 0
}

// parseMemTotalKB extracts the MemTotal value (in kB) from /proc/meminfo text.
func parseMemTotalKB(meminfo string) (uint64, bool) {
	for _, line := range strings.Split(meminfo, "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb, true
	}
	return 0, false
}

// RoundGB rounds a GiB value to the nearest 0.01.
func RoundGB(gb float64) float64 {
	return math.Round(gb*100) / 100
}

// probePiModel reads the device-tree model identifier. A missing or
// unreadable file means the machine is not a Pi.
func (p *Prober) probePiModel() PiModel {
	path := p.ModelPath
	if path == "" {
		path = "/proc/device-tree/model"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PiNone
	}
	// Device-tree strings are NUL-terminated.
	model := strings.TrimRight(string(data), "\x00")
	return ClassifyPiModel(model)
}

// ClassifyPiModel matches the model string against known generations in
// priority order. "Pi Zero 2 W" contains both "Pi Zero" and "Pi 2"; the
// Zero match must win, so the order here is significant.
func ClassifyPiModel(model string) PiModel {
	switch {
	case strings.Contains(model, "Pi Zero"), strings.Contains(model, "Pi 1"):
		return PiZeroOrOne
	case strings.Contains(model, "Pi 2"):
		return PiTwo
	case strings.Contains(model, "Pi 4"):
		return PiFour
	case strings.Contains(model, "Pi 5"), strings.Contains(model, "Pi 500"):
		return PiFive
	default:
		return PiUnknown
	}
}

// probeDesktop reports whether a desktop session is present. On Windows a
// desktop is assumed; elsewhere the standard display env vars are checked.
func probeDesktop(goos string, getenv func(string) string) bool {
	if goos == "windows" {
		return true
	}
	for _, v := range []string{"XDG_CURRENT_DESKTOP", "WAYLAND_DISPLAY", "DISPLAY"} {
		if getenv(v) != "" {
			return true
		}
	}
	return false
}
