package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/batalabs/knowd/internal/mcp"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (h *Hub) registerRoutes(mux *http.ServeMux) {
	sse := mcpsdk.NewSSEHandler(func(r *http.Request) *mcpsdk.Server {
		return h.mcpServer
	}, nil)
	// The SSE handler owns both the event stream and the per-session
	// message POSTs the endpoint event points at.
	mux.Handle("/sse/", sse)
	mux.Handle("/messages/", sse)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /registry/servers", h.handleListServers)
	mux.HandleFunc("POST /registry/servers", h.handleAddServer)
	mux.HandleFunc("POST /registry/servers/{name}/enable", h.handleEnableServer)
	mux.HandleFunc("POST /registry/servers/{name}/disable", h.handleDisableServer)
	mux.HandleFunc("DELETE /registry/servers/{name}", h.handleDeleteServer)
	mux.HandleFunc("GET /config/client/{flavor}", h.handleClientConfig)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	docCount, _ := h.vectors.Count()
	servers, err := h.registry.List()
	registered := make([]string, 0, len(servers))
	if err == nil {
		for _, s := range servers {
			registered = append(registered, s.Name)
		}
	}
	writeHubJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"pid":         os.Getpid(),
		"port":        h.port,
		"tools":       builtinToolNames,
		"vector_docs": docCount,
		"registry":    registered,
	})
}

// ---------------------------------------------------------------------------
// Server registry
// ---------------------------------------------------------------------------

func (h *Hub) handleListServers(w http.ResponseWriter, _ *http.Request) {
	specs, err := h.registry.List()
	if err != nil {
		writeHubJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if specs == nil {
		specs = []mcp.ServerSpec{}
	}
	writeHubJSON(w, http.StatusOK, specs)
}

func (h *Hub) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var spec mcp.ServerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeHubJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.registry.Add(spec); err != nil {
		writeHubJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.logf("registry: server %q added", spec.Name)
	writeHubJSON(w, http.StatusCreated, map[string]string{"status": "added", "name": spec.Name})
}

func (h *Hub) handleEnableServer(w http.ResponseWriter, r *http.Request) {
	h.setServerEnabled(w, r, true)
}

func (h *Hub) handleDisableServer(w http.ResponseWriter, r *http.Request) {
	h.setServerEnabled(w, r, false)
}

func (h *Hub) setServerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := r.PathValue("name")
	if err := h.registry.SetEnabled(name, enabled); err != nil {
		writeHubJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	h.logf("registry: server %q %s", name, status)
	writeHubJSON(w, http.StatusOK, map[string]string{"status": status, "name": name})
}

func (h *Hub) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.registry.Delete(name); err != nil {
		writeHubJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	h.logf("registry: server %q deleted", name)
	writeHubJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// ---------------------------------------------------------------------------
// Client configs
// ---------------------------------------------------------------------------

// ClientConfig renders connection config for an MCP client flavor.
// Supported flavors: standard (Claude-style mcpServers map), lmstudio,
// openai (hosted tool entry).
func (h *Hub) ClientConfig(flavor string) (any, error) {
	sseURL := h.SSEURL()
	switch flavor {
	case "standard":
		return map[string]any{
			"mcpServers": map[string]any{
				"knowd-hub": map[string]any{
					"type": "sse",
					"url":  sseURL,
				},
			},
		}, nil
	case "lmstudio":
		return map[string]any{
			"mcpServers": map[string]any{
				"knowd-hub": map[string]any{
					"url": sseURL,
				},
			},
		}, nil
	case "openai":
		return map[string]any{
			"tools": []any{
				map[string]any{
					"type":         "mcp",
					"server_label": "knowd-hub",
					"server_url":   sseURL,
				},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown client config flavor %q", flavor)
	}
}

func (h *Hub) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.ClientConfig(r.PathValue("flavor"))
	if err != nil {
		writeHubJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeHubJSON(w, http.StatusOK, cfg)
}

// WriteClientConfigs writes one config artifact per flavor into dir.
// Bundled mode calls this after the listener is bound so subprocess
// agents can pick the files up.
func (h *Hub) WriteClientConfigs(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	for _, flavor := range []string{"standard", "lmstudio", "openai"} {
		cfg, err := h.ClientConfig(flavor)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(dir, "mcp_client_"+flavor+".json")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
	}
	return nil
}
