// Package tools implements the capabilities exposed to the agent. Every
// tool operates inside one KB working tree; the registry narrows per mode
// so a question can never mutate the tree.
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/batalabs/knowd/internal/config"
	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/provider"
)

// HubAPI is the surface of the MCP hub the tools need. Defined here to
// avoid a dependency cycle with the mcp package.
type HubAPI interface {
	StoreMemory(ctx context.Context, userID int64, category, content string) (string, error)
	RetrieveMemory(ctx context.Context, userID int64, category, query string, limit int) (string, error)
	ListCategories(ctx context.Context, userID int64) (string, error)
	VectorSearch(ctx context.Context, query string, topK int, kbID string, userID int64) (string, error)
}

// MCPCaller invokes tools on registered external MCP servers.
type MCPCaller interface {
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, bool)
}

// ToolContext provides shared state to tool implementations for one agent
// invocation.
type ToolContext struct {
	Ctx     context.Context
	Workdir string // KB working tree; every path resolves under it
	UserID  int64
	KBID    string // bound KB name; scopes hub vector searches

	TopicsOnly  bool
	HTTPTimeout time.Duration

	BraveAPIKey string
	GitHubToken string

	Hub    HubAPI
	MCP    MCPCaller
	Todos  *TodoList
	Logger *config.Logger
}

func (tc *ToolContext) context() context.Context {
	if tc != nil && tc.Ctx != nil {
		return tc.Ctx
	}
	return context.Background()
}

func (tc *ToolContext) logf(format string, args ...any) {
	if tc != nil && tc.Logger != nil {
		tc.Logger.Printf(format, args...)
	}
}

// ToolFunc is the signature for tool execution functions.
type ToolFunc func(input map[string]any, tc *ToolContext) (string, error)

// ToolDef binds a provider-agnostic tool specification to its
// implementation.
type ToolDef struct {
	Spec    provider.ToolSpec
	Execute ToolFunc
}

// AllTools returns the full list of tool definitions.
func AllTools() []ToolDef {
	return []ToolDef{
		fileCreateTool(),
		fileEditTool(),
		fileDeleteTool(),
		fileMoveTool(),
		folderCreateTool(),
		folderDeleteTool(),
		folderMoveTool(),
		gitCommandTool(),
		githubAPITool(),
		webSearchTool(),
		webFetchTool(),
		kbReadTool(),
		kbListTool(),
		kbVectorSearchTool(),
		memoryStoreTool(),
		memoryRetrieveTool(),
		memoryListCategoriesTool(),
		planTodoTool(),
	}
}

// modeWhitelists names the tools each mode may call.
var modeWhitelists = map[domain.Mode][]string{
	domain.ModeNote: {
		"file_create", "file_edit", "file_move",
		"folder_create", "folder_move",
		"kb_read", "kb_list", "kb_vector_search",
		"mcp_memory_store", "mcp_memory_retrieve", "mcp_memory_list_categories",
		"web_search", "plan_todo",
	},
	domain.ModeAsk: {
		"kb_read", "kb_list", "kb_vector_search",
		"mcp_memory_retrieve", "web_search",
	},
	// task mode gets everything.
}

// ForMode returns the tool definitions a mode is allowed to use.
func ForMode(mode domain.Mode) []ToolDef {
	all := AllTools()
	allowed, restricted := modeWhitelists[mode]
	if !restricted {
		return all
	}
	set := map[string]bool{}
	for _, name := range allowed {
		set[name] = true
	}
	var out []ToolDef
	for _, t := range all {
		if set[t.Spec.Name] {
			out = append(out, t)
		}
	}
	return out
}

// Allowed reports whether a mode may call the named tool.
func Allowed(mode domain.Mode, name string) bool {
	for _, t := range ForMode(mode) {
		if t.Spec.Name == name {
			return true
		}
	}
	return false
}

// Specs extracts the provider specs from a tool list.
func Specs(defs []ToolDef) []provider.ToolSpec {
	specs := make([]provider.ToolSpec, len(defs))
	for i, t := range defs {
		specs[i] = t.Spec
	}
	return specs
}

// FindTool looks up a tool by name within a definition list.
func FindTool(defs []ToolDef, name string) (ToolDef, bool) {
	for _, t := range defs {
		if t.Spec.Name == name {
			return t, true
		}
	}
	return ToolDef{}, false
}

// ToolNames returns all built-in tool names, sorted alphabetically.
func ToolNames() []string {
	all := AllTools()
	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Spec.Name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Input helpers
// ---------------------------------------------------------------------------

func strArg(input map[string]any, key string) (string, error) {
	v, ok := input[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func optStrArg(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

// intArg reads a JSON number argument with a default and bounds.
func intArg(input map[string]any, key string, def, max int) int {
	v, ok := input[key].(float64)
	if !ok || v <= 0 {
		return def
	}
	n := int(v)
	if max > 0 && n > max {
		return max
	}
	return n
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}
