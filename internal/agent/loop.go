package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/provider"
	"github.com/batalabs/knowd/internal/tools"
)

const (
	maxProviderRetries = 3
	retryInitialWait   = 2 * time.Second
	retryMaxWait       = 30 * time.Second

	// A tool call failing twice with identical arguments means the model
	// is stuck; continuing just burns budget.
	maxSameFailure = 2

	maxToolResultLen = 64 * 1024
)

// LoopDriver runs a function-calling loop against an OpenAI-compatible
// endpoint, dispatching tool calls in-process.
type LoopDriver struct {
	Client *provider.Client
}

// Run executes the loop until the model stops calling tools, the
// iteration cap is reached, or the context expires.
func (d *LoopDriver) Run(ctx context.Context, inv Invocation, onEvent EventFunc) (Result, error) {
	if d.Client == nil || d.Client.Model == "" {
		return Result{}, domain.Errf(domain.KindInternal, "agent model not configured (set AGENT_MODEL)")
	}
	maxIter := inv.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	defs := tools.ForMode(inv.Mode)
	if inv.Mode == domain.ModeTask {
		defs = append(defs, inv.ExtraTools...)
	}
	specs := tools.Specs(defs)
	tc := inv.Tools
	if tc == nil {
		tc = &tools.ToolContext{}
	}
	tc.Ctx = ctx
	tc.Workdir = inv.WorkingDir
	tc.UserID = inv.UserID

	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: inv.System},
		{Role: provider.RoleUser, Content: inv.Prompt},
	}

	var res Result
	failures := map[string]int{}

	for iter := 0; iter < maxIter; iter++ {
		res.Iterations = iter + 1
		emit(onEvent, Event{Kind: EventThinking})

		resp, err := d.chatWithRetry(ctx, msgs, specs, onEvent)
		if err != nil {
			if ctx.Err() != nil {
				return res, domain.E(domain.KindAgentTimeout, "agent run timed out", ctx.Err())
			}
			return res, domain.E(domain.KindInternal, "model call failed", err)
		}
		res.Usage.Add(resp.Usage)

		msgs = append(msgs, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if !resp.WantsTools() {
			res.Summary = resp.Text
			return res, nil
		}

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return res, domain.E(domain.KindAgentTimeout, "agent run timed out", ctx.Err())
			}
			emit(onEvent, Event{Kind: EventTool, Tool: call.Name})

			output, execErr := executeCall(defs, call, tc)
			entry := ToolTraceEntry{Tool: call.Name, Args: call.Arguments, OK: execErr == nil}
			if execErr != nil {
				entry.Result = execErr.Error()
			} else {
				entry.Result = output
			}
			res.ToolTrace = append(res.ToolTrace, entry)

			content := output
			if execErr != nil {
				content = "Error: " + execErr.Error()
				sig := call.Name + "\x00" + call.Arguments
				failures[sig]++
				if failures[sig] >= maxSameFailure {
					return res, domain.Errf(domain.KindAgentToolFailed,
						"tool %s failed repeatedly with the same arguments", call.Name)
				}
			}
			msgs = append(msgs, provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: call.ID,
				Content:    truncateResult(content),
			})
		}
	}

	return res, domain.Errf(domain.KindAgentBudgetExceeded,
		"agent stopped after %d iterations without finishing", maxIter)
}

// executeCall parses arguments and dispatches to the tool. Unknown tools
// and malformed arguments are tool-level errors fed back to the model.
func executeCall(defs []tools.ToolDef, call provider.ToolCall, tc *tools.ToolContext) (string, error) {
	def, ok := tools.FindTool(defs, call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	input := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %v", err)
		}
	}
	return def.Execute(input, tc)
}

// chatWithRetry wraps the provider call with exponential backoff for
// retryable errors, preferring the server's Retry-After when present.
func (d *LoopDriver) chatWithRetry(ctx context.Context, msgs []provider.Message, specs []provider.ToolSpec, onEvent EventFunc) (provider.Response, error) {
	wait := retryInitialWait
	for attempt := 0; ; attempt++ {
		resp, err := d.Client.Chat(ctx, msgs, specs)
		if err == nil {
			return resp, nil
		}
		if attempt >= maxProviderRetries {
			return provider.Response{}, err
		}

		var apiErr *provider.APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return provider.Response{}, err
		}
		retryWait := wait
		if apiErr.RetryAfterMs > 0 {
			retryWait = time.Duration(apiErr.RetryAfterMs) * time.Millisecond
		} else if retryWait > retryMaxWait {
			retryWait = retryMaxWait
		}
		emit(onEvent, Event{
			Kind:    EventRetrying,
			Message: fmt.Sprintf("rate limited, retrying in %s", retryWait.Round(time.Millisecond)),
		})
		select {
		case <-time.After(retryWait):
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		}
		wait *= 2
	}
}

func truncateResult(s string) string {
	if len(s) <= maxToolResultLen {
		return s
	}
	return s[:maxToolResultLen] + "\n... (truncated)"
}
