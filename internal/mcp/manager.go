// Package mcp connects to external Model Context Protocol servers and
// exposes their tools to the agent under namespaced names. Server specs
// are JSON files in the data directory, shared plus per-user scope.
package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/batalabs/knowd/internal/provider"
	"github.com/batalabs/knowd/internal/tools"
)

// serverStatus describes the connection state of an MCP server.
type serverStatus int

const (
	statusDisconnected serverStatus = iota
	statusConnecting
	statusConnected
	statusError
)

func (s serverStatus) String() string {
	switch s {
	case statusDisconnected:
		return "disconnected"
	case statusConnecting:
		return "connecting"
	case statusConnected:
		return "connected"
	case statusError:
		return "error"
	default:
		return "unknown"
	}
}

// serverConn holds the state for a single MCP server connection.
type serverConn struct {
	name    string
	spec    ServerSpec
	session *mcpsdk.ClientSession
	tools   []*mcpsdk.Tool
	cancel  context.CancelFunc
	status  serverStatus
	lastErr error
}

// Manager manages MCP server connections and tool discovery for one set
// of specs. It satisfies tools.MCPCaller.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverConn
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		servers: make(map[string]*serverConn),
	}
}

// connectTimeout bounds connecting to a single MCP server.
var connectTimeout = 30 * time.Second

// callTimeout bounds a single tool invocation.
var callTimeout = 30 * time.Second

// StartAll connects to every enabled server. Individual failures are
// logged to stderr and recorded per server; they never block the rest.
func (m *Manager) StartAll(ctx context.Context, specs []ServerSpec) {
	for _, spec := range specs {
		if !spec.IsEnabled() {
			continue
		}
		conn := &serverConn{
			name:   spec.Name,
			spec:   spec,
			status: statusConnecting,
		}
		m.mu.Lock()
		m.servers[spec.Name] = conn
		m.mu.Unlock()

		if err := m.connectServer(ctx, conn); err != nil {
			m.mu.Lock()
			conn.status = statusError
			conn.lastErr = err
			m.mu.Unlock()
			fmt.Fprintf(os.Stderr, "mcp: server %q failed to connect: %v\n", spec.Name, err)
			continue
		}

		m.mu.Lock()
		conn.status = statusConnected
		m.mu.Unlock()
	}
}

// newTransport creates the appropriate MCP transport. Extracted for testability.
var newTransport = defaultNewTransport

func defaultNewTransport(tr Transport) (mcpsdk.Transport, context.CancelFunc) {
	switch tr.Type {
	case "sse":
		return &mcpsdk.SSEClientTransport{Endpoint: tr.URL}, func() {}
	case "http":
		return &mcpsdk.StreamableClientTransport{Endpoint: tr.URL}, func() {}
	default: // stdio
		cmd := exec.Command(tr.Command, tr.Args...)
		if len(tr.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range tr.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, func() {
			if cmd.Process != nil {
				// The child may already have exited; the kill error is
				// uninteresting either way.
				_ = cmd.Process.Kill()
			}
		}
	}
}

func (m *Manager) connectServer(ctx context.Context, conn *serverConn) error {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "knowd",
		Version: "1.0",
	}, nil)

	transport, killFunc := newTransport(conn.spec.Transport)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(connCtx, transport, nil)
	if err != nil {
		killFunc()
		return fmt.Errorf("connecting: %w", err)
	}

	conn.cancel = killFunc
	conn.session = session

	listCtx, listCancel := context.WithTimeout(ctx, connectTimeout)
	defer listCancel()

	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		conn.cancel()
		return fmt.Errorf("listing tools: %w", err)
	}
	conn.tools = result.Tools
	return nil
}

// StopAll closes all MCP server connections.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.servers {
		if conn.session != nil {
			if err := conn.session.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "mcp: close session: %v\n", err)
			}
		}
		if conn.cancel != nil {
			conn.cancel()
		}
		conn.status = statusDisconnected
	}
}

// ToolSpecs returns all connected servers' tools as namespaced specs.
func (m *Manager) ToolSpecs() []provider.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var specs []provider.ToolSpec
	for _, conn := range m.servers {
		if conn.status != statusConnected {
			continue
		}
		for _, tool := range conn.tools {
			specs = append(specs, ToToolSpec(conn.name, tool))
		}
	}
	return specs
}

// ToolDefs returns all connected servers' tools as executable ToolDefs
// for the agent loop.
func (m *Manager) ToolDefs() []tools.ToolDef {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var defs []tools.ToolDef
	for _, conn := range m.servers {
		if conn.status != statusConnected {
			continue
		}
		for _, tool := range conn.tools {
			spec := ToToolSpec(conn.name, tool)
			serverName := conn.name
			toolName := tool.Name
			defs = append(defs, tools.ToolDef{
				Spec: spec,
				Execute: func(input map[string]any, tc *tools.ToolContext) (string, error) {
					ctx := context.Background()
					if tc != nil && tc.Ctx != nil {
						ctx = tc.Ctx
					}
					result, isErr := m.CallTool(ctx, serverName, toolName, input)
					if isErr {
						return result, fmt.Errorf("%s", result)
					}
					return result, nil
				},
			})
		}
	}
	return defs
}

// CallTool invokes an MCP tool on the named server.
// Returns (result text, isError).
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, bool) {
	m.mu.RLock()
	conn, ok := m.servers[serverName]
	m.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("MCP server %q not found", serverName), true
	}
	if conn.status != statusConnected || conn.session == nil {
		errMsg := fmt.Sprintf("MCP server %q is unavailable", serverName)
		if conn.lastErr != nil {
			errMsg += ": " + conn.lastErr.Error()
		}
		return errMsg, true
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := conn.session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return fmt.Sprintf("MCP tool call timed out after %s", callTimeout), true
		}
		return fmt.Sprintf("MCP tool call failed: %v", err), true
	}

	if result == nil {
		return "MCP server returned empty response", true
	}

	text := extractTextContent(result.Content)
	if text == "" {
		return "MCP server returned empty response", true
	}

	return text, result.IsError
}

// extractTextContent concatenates text from MCP Content items.
func extractTextContent(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolNames returns a sorted list of all namespaced MCP tool names.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for _, conn := range m.servers {
		if conn.status != statusConnected {
			continue
		}
		for _, tool := range conn.tools {
			names = append(names, NamespacedName(conn.name, tool.Name))
		}
	}
	sort.Strings(names)
	return names
}

// ServerStatuses returns the connection status for each server.
func (m *Manager) ServerStatuses() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]string, len(m.servers))
	for name, conn := range m.servers {
		s := conn.status.String()
		if conn.lastErr != nil && conn.status == statusError {
			s += ": " + conn.lastErr.Error()
		}
		statuses[name] = s
	}
	return statuses
}
