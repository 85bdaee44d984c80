// Package report collects per-target action outcomes for one convergence
// run. Outcomes are append-only: once recorded they are never mutated.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/atomikpanda/provisr/internal/color"
)

// Status is the result classification of one action attempt.
type Status string

const (
	// StatusApplied: the action ran and mutated machine state.
	StatusApplied Status = "applied"
	// StatusSatisfied: the check found the desired state already in place;
	// no side effects occurred.
	StatusSatisfied Status = "skipped_already_satisfied"
	// StatusNotApplicable: the entry's predicate evaluated false for this
	// machine; the check never ran.
	StatusNotApplicable Status = "skipped_not_applicable"
	// StatusFailed: the action ran and did not succeed. The run continues.
	StatusFailed Status = "failed"
)

// Outcome records one action attempt.
type Outcome struct {
	Target   string `json:"target"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Report is the ordered log of outcomes for one run.
type Report struct {
	Started  time.Time `json:"started"`
	DryRun   bool      `json:"dry_run,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

// New creates an empty report stamped with the current time.
func New(dryRun bool) *Report {
	return &Report{Started: time.Now().UTC(), DryRun: dryRun}
}

// Append records o. Outcomes keep manifest declaration order.
func (r *Report) Append(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Applied counts outcomes that mutated state.
func (r *Report) Applied() int { return r.count(StatusApplied) }

// Failed counts failed outcomes, required or not.
func (r *Report) Failed() int { return r.count(StatusFailed) }

func (r *Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// HasRequiredFailure reports whether any required action failed. This
// drives the process exit code; optional failures do not.
func (r *Report) HasRequiredFailure() bool {
	return r.RequiredFailures() > 0
}

// RequiredFailures counts failed outcomes marked required.
func (r *Report) RequiredFailures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed && o.Required {
			n++
		}
	}
	return n
}

// Render writes the human-readable report.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "\n%s\n", color.Bold("run report"))
	for _, o := range r.Outcomes {
		label := statusLabel(o.Status)
		line := fmt.Sprintf("  %-12s %s", label, o.Target)
		if o.Detail != "" {
			line += color.Dim("  (" + o.Detail + ")")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s\n", color.Dim(fmt.Sprintf("%d applied, %d failed, %d outcomes",
		r.Applied(), r.Failed(), len(r.Outcomes))))
}

func statusLabel(s Status) string {
	switch s {
	case StatusApplied:
		return color.BoldGreen("applied")
	case StatusSatisfied:
		return color.Green("ok")
	case StatusNotApplicable:
		return color.Dim("n/a")
	case StatusFailed:
		return color.BoldRed("FAILED")
	default:
		return string(s)
	}
}

// WriteJSON emits the report as structured data for tooling consumption.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
