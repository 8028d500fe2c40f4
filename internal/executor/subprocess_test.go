package executor

import (
	"testing"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
)

func TestRunShellCapturesOutput(t *testing.T) {
	result, err := RunShell(t.TempDir(), "echo hello", "test", Options{CaptureStdout: true, CaptureStderr: true, VerifyExitcode: true})
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if result.Stdout != "hello" {
		t.Errorf("got stdout %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("got exit code %d", result.ExitCode)
	}
}

func TestRunShellVerifiesExitCode(t *testing.T) {
	_, err := RunShell(t.TempDir(), "exit 3", "test", Options{CaptureStdout: true, CaptureStderr: true, VerifyExitcode: true})
	if err == nil {
		t.Fatal("expected an error for a nonzero exit code")
	}
	ae, ok := err.(*agenterr.AgentError)
	if !ok {
		t.Fatalf("error %v is not an *agenterr.AgentError", err)
	}
	if ae.Code != 100 {
		t.Errorf("expected CustomException code offset 100, got %d", ae.Code)
	}
}

func TestRunShellSkipsVerificationWhenDisabled(t *testing.T) {
	result, err := RunShell(t.TempDir(), "exit 3", "test", Options{CaptureStdout: true, CaptureStderr: true, VerifyExitcode: false})
	if err != nil {
		t.Fatalf("expected no error with verification disabled: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("got exit code %d", result.ExitCode)
	}
}

func TestRunShellDoesNotCaptureWhenDisabled(t *testing.T) {
	result, err := RunShell(t.TempDir(), "echo hello", "test", Options{CaptureStdout: false, CaptureStderr: false, VerifyExitcode: true})
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if result.Stdout != "" {
		t.Errorf("expected empty stdout when capture disabled, got %q", result.Stdout)
	}
}
