package executor

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/kestrel-ops/guestagent/internal/agenterr"
	"github.com/kestrel-ops/guestagent/internal/plan"
)

// Options are the three script-level knobs every executor Load() reads from
// its plan Options, each defaulting true exactly as muranoagent's
// ApplicationExecutor.load and ChefPuppetExecutorBase.load do.
type Options struct {
	CaptureStdout  bool
	CaptureStderr  bool
	VerifyExitcode bool
}

// OptionsFromMap extracts Options from a script's plan.Options, using
// muranoagent's captureStdout/captureStderr/verifyExitcode keys.
func OptionsFromMap(m map[string]any) Options {
	o := Options{CaptureStdout: true, CaptureStderr: true, VerifyExitcode: true}
	if v, ok := m["captureStdout"].(bool); ok {
		o.CaptureStdout = v
	}
	if v, ok := m["captureStderr"].(bool); ok {
		o.CaptureStderr = v
	}
	if v, ok := m["verifyExitcode"].(bool); ok {
		o.VerifyExitcode = v
	}
	return o
}

// RunShell runs command through the host shell in dir, the Go equivalent of
// subprocess.Popen(..., shell=True, universal_newlines=True). label names
// the script in the CustomException raised on a verified non-zero exit.
func RunShell(dir, command, label string, o Options) (plan.ExecutorResult, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	if o.CaptureStdout {
		cmd.Stdout = &stdout
	}
	if o.CaptureStderr {
		cmd.Stderr = &stderr
	}

	runErr := cmd.Run()

	result := plan.ExecutorResult{ExitCode: exitCode(cmd, runErr)}
	if o.CaptureStdout {
		result.Stdout = strings.TrimSpace(stdout.String())
	}
	if o.CaptureStderr {
		result.Stderr = strings.TrimSpace(stderr.String())
	}

	if o.VerifyExitcode && result.ExitCode != 0 {
		return result, agenterr.CustomException(0, result, "Script %s returned error code", label)
	}
	return result, nil
}

func exitCode(cmd *exec.Cmd, runErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return -1
	}
	return 0
}
