package color

import "testing"

func TestDisabledPassthrough(t *testing.T) {
	Enabled = false
	if got := Green("ok"); got != "ok" {
		t.Errorf("Green() = %q, want passthrough when disabled", got)
	}
	if got := BoldRed("fail"); got != "fail" {
		t.Errorf("BoldRed() = %q, want passthrough when disabled", got)
	}
}

func TestEnabledWraps(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	got := Green("ok")
	if got == "ok" {
		t.Error("Green() should wrap when enabled")
	}
	if got != "\x1b[32mok\x1b[0m" {
		t.Errorf("Green() = %q", got)
	}
}

func TestEmptyString(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	if got := Dim(""); got != "" {
		t.Errorf("Dim(\"\") = %q, want empty", got)
	}
}
