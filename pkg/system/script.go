package system

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/opentweak/opentweak/pkg/engine"
)

// ScriptRunner executes shell snippets with a bounded runtime.
type ScriptRunner interface {
	Run(ctx context.Context, script string, elevated bool, timeout time.Duration) (engine.ScriptOutput, error)
}

// ShellRunner runs scripts through /bin/sh -c. Elevated runs go through
// sudo in non-interactive mode; their output cannot be captured reliably
// when sudo itself prompts, so callers should not depend on stdout from
// elevated scripts.
type ShellRunner struct {
	// Sudo overrides the elevation command. Defaults to "sudo".
	Sudo string
}

// NewShellRunner creates a shell-backed script runner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Sudo: "sudo"}
}

// Run executes the script and captures stdout and stderr. A non-zero exit
// is not an error; it is reported through ExitCode. TimedOut is set when
// the deadline killed the process.
func (r *ShellRunner) Run(ctx context.Context, script string, elevated bool, timeout time.Duration) (engine.ScriptOutput, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if elevated {
		cmd = exec.CommandContext(runCtx, r.sudo(), "-n", "/bin/sh", "-c", script)
	} else {
		cmd = exec.CommandContext(runCtx, "/bin/sh", "-c", script)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := engine.ScriptOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		// Process never started (missing shell, bad sudo).
		return out, err
	}
	return out, nil
}

func (r *ShellRunner) sudo() string {
	if r.Sudo != "" {
		return r.Sudo
	}
	return "sudo"
}
