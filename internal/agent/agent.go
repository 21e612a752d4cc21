// Package agent runs one model invocation against a KB working tree and
// reports what happened. Two drivers exist: an in-process function-calling
// loop and a subprocess wrapper around an external CLI. Both honor the
// same Invocation and produce the same Result.
package agent

import (
	"context"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/provider"
	"github.com/batalabs/knowd/internal/tools"
)

// EventKind classifies progress callbacks during a run.
type EventKind int

const (
	// EventThinking fires when a model round trip starts.
	EventThinking EventKind = iota
	// EventTool fires before a tool executes.
	EventTool
	// EventRetrying fires when a provider call is backed off and retried.
	EventRetrying
)

// Event is a progress notification. The service layer folds these into
// the chat status message.
type Event struct {
	Kind    EventKind
	Tool    string
	Message string
}

// EventFunc is the callback signature for event delivery. May be nil.
type EventFunc func(Event)

// Invocation describes one agent run.
type Invocation struct {
	Mode          domain.Mode
	Prompt        string
	System        string
	WorkingDir    string
	UserID        int64
	MaxIterations int

	// Tools is the mode-restricted context handed to tool executions.
	// The loop driver fills Tools.Ctx and Tools.Workdir itself.
	Tools *tools.ToolContext

	// ExtraTools extends the built-in registry, e.g. with tools
	// discovered from connected MCP servers. Task mode only.
	ExtraTools []tools.ToolDef
}

// ToolTraceEntry records one tool call for diagnostics.
type ToolTraceEntry struct {
	Tool   string
	Args   string
	OK     bool
	Result string
}

// Result is what a completed run produced. Filesystem effects are
// collected separately by comparing git status before and after.
type Result struct {
	Summary    string
	ToolTrace  []ToolTraceEntry
	Usage      provider.Usage
	Iterations int
}

// Driver executes invocations.
type Driver interface {
	Run(ctx context.Context, inv Invocation, onEvent EventFunc) (Result, error)
}

func emit(onEvent EventFunc, e Event) {
	if onEvent != nil {
		onEvent(e)
	}
}
