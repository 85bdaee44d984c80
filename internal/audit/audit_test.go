package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestEntryJSON(t *testing.T) {
	e := Entry{
		Time:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Command: "converge",
		Target:  "package git",
		Status:  "applied",
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Command != "converge" {
		t.Errorf("Command = %q", decoded.Command)
	}
	if decoded.Target != "package git" {
		t.Errorf("Target = %q", decoded.Target)
	}
	if decoded.Status != "applied" {
		t.Errorf("Status = %q", decoded.Status)
	}
}

func TestEntryDetailOmitEmpty(t *testing.T) {
	e := Entry{Command: "converge", Target: "t", Status: "applied"}
	data, _ := json.Marshal(e)
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, exists := m["detail"]; exists {
		t.Error("detail field should be omitted when empty")
	}
}

func TestLogAndReadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	Log(Entry{Command: "converge", Target: "unit-test-target", Status: "applied"})
	Log(Entry{Command: "converge", Target: "other", Status: "failed", Detail: "boom"})

	entries, err := Read("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Time.IsZero() {
		t.Error("Log should stamp zero times")
	}

	filtered, err := Read("other", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Detail != "boom" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestReadLimit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	for i := 0; i < 5; i++ {
		Log(Entry{Command: "converge", Target: "t", Status: "applied"})
	}
	entries, err := Read("", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("len = %d, want 2", len(entries))
	}
}

func TestReadMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	entries, err := Read("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("expected nil entries for missing file, got %d", len(entries))
	}
}

func TestLogPath(t *testing.T) {
	p := LogPath()
	if p == "" {
		t.Error("LogPath() should not be empty")
	}
	if filepath.Base(p) != "history.log" {
		t.Errorf("LogPath() basename = %q", filepath.Base(p))
	}
}
