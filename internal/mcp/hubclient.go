package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// HubClient is an SSE session to the hub's built-in tool server. It
// satisfies tools.HubAPI so the memory and vector tools can delegate.
type HubClient struct {
	session *mcpsdk.ClientSession

	// Timeout bounds every tool call. Zero means 10 seconds.
	Timeout time.Duration
}

// DialHub connects to the hub's SSE endpoint, e.g.
// http://127.0.0.1:8765/sse/.
func DialHub(ctx context.Context, url string) (*HubClient, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "knowd",
		Version: "1.0",
	}, nil)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(connCtx, &mcpsdk.SSEClientTransport{Endpoint: url}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to hub at %s: %w", url, err)
	}
	return &HubClient{session: session}, nil
}

// Close terminates the hub session.
func (h *HubClient) Close() error {
	if h.session == nil {
		return nil
	}
	return h.session.Close()
}

func (h *HubClient) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 10 * time.Second
}

// call invokes one hub tool and returns its text content. An IsError
// result becomes a Go error carrying the server's message.
func (h *HubClient) call(ctx context.Context, name string, args map[string]any) (string, error) {
	if h == nil || h.session == nil {
		return "", fmt.Errorf("hub not connected")
	}
	callCtx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()

	result, err := h.session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("hub tool %s: %w", name, err)
	}
	text := extractTextContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("hub tool %s: %s", name, text)
	}
	return text, nil
}

// StoreMemory persists one memory entry for the user.
func (h *HubClient) StoreMemory(ctx context.Context, userID int64, category, content string) (string, error) {
	return h.call(ctx, "store_memory", map[string]any{
		"user_id":  userID,
		"category": category,
		"content":  content,
	})
}

// RetrieveMemory fetches memory entries, optionally filtered by category
// and substring query.
func (h *HubClient) RetrieveMemory(ctx context.Context, userID int64, category, query string, limit int) (string, error) {
	args := map[string]any{"user_id": userID}
	if category != "" {
		args["category"] = category
	}
	if query != "" {
		args["query"] = query
	}
	if limit > 0 {
		args["limit"] = limit
	}
	return h.call(ctx, "retrieve_memory", args)
}

// ListCategories lists the user's memory categories with entry counts.
func (h *HubClient) ListCategories(ctx context.Context, userID int64) (string, error) {
	return h.call(ctx, "list_categories", map[string]any{"user_id": userID})
}

// VectorSearch queries the vector-document index. An empty kbID or zero
// userID leaves that dimension unscoped.
func (h *HubClient) VectorSearch(ctx context.Context, query string, topK int, kbID string, userID int64) (string, error) {
	args := map[string]any{
		"query": query,
		"top_k": topK,
	}
	if kbID != "" {
		args["kb_id"] = kbID
	}
	if userID != 0 {
		args["user_id"] = userID
	}
	return h.call(ctx, "vector_search", args)
}
