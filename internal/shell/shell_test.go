package shell

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

func TestEvalSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
	ok, err := Eval(context.Background(), "true")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Eval(true) should return true")
	}
}

func TestEvalFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
	ok, err := Eval(context.Background(), "false")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Eval(false) should return false")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
	out, err := Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Errorf("Run() output = %q, want hello", out)
	}
}

func TestRunFailureKeepsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
	out, err := Run(context.Background(), "echo broken; exit 3")
	if err == nil {
		t.Error("Run() should return error for non-zero exit")
	}
	if !strings.Contains(out, "broken") {
		t.Errorf("Run() output = %q, want diagnostic preserved", out)
	}
}

func TestOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
	out, err := Output(context.Background(), "echo 4.00")
	if err != nil {
		t.Fatal(err)
	}
	if out != "4.00" {
		t.Errorf("Output() = %q", out)
	}
}

func TestRunCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, "sleep 10"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
