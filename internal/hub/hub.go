// Package hub is the long-running MCP hub: built-in memory and vector
// tools behind an SSE surface, plus an HTTP registry for external MCP
// servers. The bot either starts it in-process (bundled mode) or talks
// to an external instance by URL.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/batalabs/knowd/internal/config"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configures a Hub.
type Options struct {
	MemoryDir  string // per-user memory roots
	VectorDB   string // sqlite document index path
	ServersDir string // MCP server spec registry
	LockPath   string // hub lockfile, e.g. data/hub.lock
	BindAddr   string // empty binds localhost
	Logger     *config.Logger
}

// Hub serves the built-in tools and the registry API.
type Hub struct {
	memory    *MemoryStore
	vectors   *VectorIndex
	registry  *Registry
	mcpServer *mcpsdk.Server
	logger    *config.Logger

	lockPath string
	bindAddr string
	server   *http.Server
	port     int
	ready    chan struct{}
	done     chan struct{}
}

// New opens the hub's stores and builds its MCP server. Call Start to
// begin serving.
func New(opts Options) (*Hub, error) {
	vectors, err := OpenVectorIndex(opts.VectorDB)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		memory:   NewMemoryStore(opts.MemoryDir),
		vectors:  vectors,
		registry: NewRegistry(opts.ServersDir),
		logger:   opts.Logger,
		lockPath: opts.LockPath,
		bindAddr: opts.BindAddr,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	h.mcpServer = h.newMCPServer()
	return h, nil
}

// Port returns the bound port. Blocks until Start has bound the listener.
func (h *Hub) Port() int {
	<-h.ready
	return h.port
}

// URL returns the hub's base URL.
func (h *Hub) URL() string {
	return fmt.Sprintf("http://%s:%d", h.hostname(), h.Port())
}

// SSEURL returns the SSE endpoint clients should connect to.
func (h *Hub) SSEURL() string {
	return h.URL() + "/sse/"
}

func (h *Hub) hostname() string {
	if h.bindAddr == "" || h.bindAddr == "localhost" {
		return "127.0.0.1"
	}
	return h.bindAddr
}

// Start binds the listener and serves until Shutdown. If the requested
// port is taken, an ephemeral port is used instead.
func (h *Hub) Start(port int) error {
	bindAddr := h.bindAddr
	if bindAddr == "" {
		bindAddr = "localhost"
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, port))
	if err != nil {
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:0", bindAddr))
		if err != nil {
			return fmt.Errorf("listening: %w", err)
		}
	}
	h.port = ln.Addr().(*net.TCPAddr).Port
	h.logf("hub starting on %s:%d", bindAddr, h.port)
	close(h.ready)

	if err := h.writeLockfile(bindAddr); err != nil {
		ln.Close()
		return fmt.Errorf("writing hub lockfile: %w", err)
	}

	mux := http.NewServeMux()
	h.registerRoutes(mux)
	h.server = &http.Server{Handler: mux}
	if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server and closes the stores.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logf("hub shutting down")
	close(h.done)
	var err error
	if h.server != nil {
		err = h.server.Shutdown(ctx)
	}
	if h.vectors != nil {
		if closeErr := h.vectors.Close(); closeErr != nil {
			h.logf("closing vector index: %v", closeErr)
		}
	}
	if h.lockPath != "" {
		if rmErr := os.Remove(h.lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			h.logf("removing hub lockfile: %v", rmErr)
		}
	}
	return err
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

// ---------------------------------------------------------------------------
// Hub lockfile
// ---------------------------------------------------------------------------

// Lockfile holds the data persisted while the hub is running.
type Lockfile struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	BindAddr  string `json:"bind_addr"`
	StartedAt string `json:"started_at"`
}

func (h *Hub) writeLockfile(bindAddr string) error {
	if h.lockPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(Lockfile{
		PID:       os.Getpid(),
		Port:      h.port,
		BindAddr:  bindAddr,
		StartedAt: time.Now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(h.lockPath, data, 0o600)
}

// ReadLockfile reads a hub lockfile, e.g. to find a running hub's port.
func ReadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing hub lockfile: %w", err)
	}
	return &lf, nil
}

func writeHubJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "hub: write json: %v\n", err)
	}
}
