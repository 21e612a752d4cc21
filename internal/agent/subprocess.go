package agent

import (
	"bytes"
	"context"
	"os"
	"strings"

	"os/exec"

	"github.com/batalabs/knowd/internal/domain"
)

const maxSubprocessOutput = 128 * 1024

// SubprocessDriver delegates the whole run to an external agent CLI. The
// CLI is spawned inside the working directory with the prompt on stdin;
// it brings its own tool loop and reads its MCP configuration from the
// client-config files the hub writes at startup.
type SubprocessDriver struct {
	// Command is the CLI invocation, e.g. "aichat --no-stream".
	Command string
}

// Run spawns the CLI and captures its stdout as the run summary.
func (d *SubprocessDriver) Run(ctx context.Context, inv Invocation, onEvent EventFunc) (Result, error) {
	parts := strings.Fields(d.Command)
	if len(parts) == 0 {
		return Result{}, domain.Errf(domain.KindInternal, "agent CLI not configured (set AGENT_CLI_COMMAND)")
	}
	emit(onEvent, Event{Kind: EventThinking})

	prompt := inv.Prompt
	if inv.System != "" {
		prompt = inv.System + "\n\n" + inv.Prompt
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = inv.WorkingDir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, domain.E(domain.KindAgentTimeout, "agent run timed out", ctx.Err())
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return Result{}, domain.Errf(domain.KindAgentToolFailed, "agent CLI failed: %s", firstLine(msg))
	}

	out := strings.TrimSpace(stdout.String())
	if len(out) > maxSubprocessOutput {
		out = out[len(out)-maxSubprocessOutput:]
	}
	return Result{Summary: out, Iterations: 1}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
