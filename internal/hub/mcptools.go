package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// builtinToolNames lists the hub's own tools, in registration order.
var builtinToolNames = []string{
	"store_memory",
	"retrieve_memory",
	"list_categories",
	"vector_search",
	"add_vector_documents",
	"update_vector_documents",
	"delete_vector_documents",
	"reindex_vector",
}

// newMCPServer builds the hub's MCP server with the built-in memory and
// vector tools registered.
func (h *Hub) newMCPServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "knowd-hub",
		Version: "1.0",
	}, nil)

	objSchema := func(props map[string]any, required ...string) map[string]any {
		s := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			req := make([]any, len(required))
			for i, r := range required {
				req[i] = r
			}
			s["required"] = req
		}
		return s
	}

	server.AddTool(&mcpsdk.Tool{
		Name:        "store_memory",
		Description: "Store a memory entry for a user under a category",
		InputSchema: objSchema(map[string]any{
			"user_id":  map[string]any{"type": "integer"},
			"category": map[string]any{"type": "string"},
			"content":  map[string]any{"type": "string"},
		}, "user_id", "category", "content"),
	}, h.handleStoreMemory)

	server.AddTool(&mcpsdk.Tool{
		Name:        "retrieve_memory",
		Description: "Retrieve a user's memory entries, optionally filtered by category and substring query",
		InputSchema: objSchema(map[string]any{
			"user_id":  map[string]any{"type": "integer"},
			"category": map[string]any{"type": "string"},
			"query":    map[string]any{"type": "string"},
			"limit":    map[string]any{"type": "integer"},
		}, "user_id"),
	}, h.handleRetrieveMemory)

	server.AddTool(&mcpsdk.Tool{
		Name:        "list_categories",
		Description: "List a user's memory categories with entry counts",
		InputSchema: objSchema(map[string]any{
			"user_id": map[string]any{"type": "integer"},
		}, "user_id"),
	}, h.handleListCategories)

	server.AddTool(&mcpsdk.Tool{
		Name:        "vector_search",
		Description: "Search the document index by token overlap, optionally scoped to one KB and one user",
		InputSchema: objSchema(map[string]any{
			"query":   map[string]any{"type": "string"},
			"top_k":   map[string]any{"type": "integer"},
			"kb_id":   map[string]any{"type": "string"},
			"user_id": map[string]any{"type": "integer"},
		}, "query"),
	}, h.handleVectorSearch)

	docsSchema := objSchema(map[string]any{
		"documents": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":       map[string]any{"type": "string"},
					"content":  map[string]any{"type": "string"},
					"metadata": map[string]any{"type": "string"},
				},
			},
		},
	}, "documents")

	server.AddTool(&mcpsdk.Tool{
		Name:        "add_vector_documents",
		Description: "Add documents to the shared index",
		InputSchema: docsSchema,
	}, h.handleAddVectorDocuments)

	server.AddTool(&mcpsdk.Tool{
		Name:        "update_vector_documents",
		Description: "Replace the content of existing indexed documents",
		InputSchema: docsSchema,
	}, h.handleUpdateVectorDocuments)

	server.AddTool(&mcpsdk.Tool{
		Name:        "delete_vector_documents",
		Description: "Delete indexed documents by id",
		InputSchema: objSchema(map[string]any{
			"ids": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		}, "ids"),
	}, h.handleDeleteVectorDocuments)

	server.AddTool(&mcpsdk.Tool{
		Name:        "reindex_vector",
		Description: "Recompute the token index for all documents",
		InputSchema: objSchema(map[string]any{}),
	}, h.handleReindexVector)

	return server
}

func textResult(format string, args ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func errorResult(format string, args ...any) *mcpsdk.CallToolResult {
	res := textResult(format, args...)
	res.IsError = true
	return res
}

func decodeArgs(req *mcpsdk.CallToolRequest, into any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, into)
}

// ---------------------------------------------------------------------------
// Memory tools
// ---------------------------------------------------------------------------

func (h *Hub) handleStoreMemory(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		UserID   int64  `json:"user_id"`
		Category string `json:"category"`
		Content  string `json:"content"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if args.UserID == 0 {
		return errorResult("user_id is required"), nil
	}
	id, err := h.memory.Store(ctx, args.UserID, args.Category, args.Content)
	if err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Memory stored under %q (id %s)", args.Category, id), nil
}

func (h *Hub) handleRetrieveMemory(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		UserID   int64  `json:"user_id"`
		Category string `json:"category"`
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if args.UserID == 0 {
		return errorResult("user_id is required"), nil
	}
	entries, err := h.memory.Retrieve(args.UserID, args.Category, args.Query, args.Limit)
	if err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("%s", FormatEntries(entries)), nil
}

func (h *Hub) handleListCategories(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		UserID int64 `json:"user_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if args.UserID == 0 {
		return errorResult("user_id is required"), nil
	}
	counts, err := h.memory.Categories(args.UserID)
	if err != nil {
		return errorResult("%v", err), nil
	}
	if len(counts) == 0 {
		return textResult("No categories."), nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (%d)", name, counts[name])
	}
	return textResult("%s", b.String()), nil
}

// ---------------------------------------------------------------------------
// Vector tools
// ---------------------------------------------------------------------------

func (h *Hub) handleVectorSearch(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Query  string `json:"query"`
		TopK   int    `json:"top_k"`
		KBID   string `json:"kb_id"`
		UserID int64  `json:"user_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("query is required"), nil
	}
	topK := args.TopK
	if topK <= 0 {
		topK = 5
	}
	hits, err := h.vectors.Search(args.Query, topK, SearchScope{KBID: args.KBID, UserID: args.UserID})
	if err != nil {
		return errorResult("%v", err), nil
	}
	if len(hits) == 0 {
		return textResult("No matching documents."), nil
	}
	var b strings.Builder
	for i, d := range hits {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. [%.2f] %s", i+1, d.Score, d.Content)
		if d.Metadata != "" {
			fmt.Fprintf(&b, " (%s)", d.Metadata)
		}
	}
	return textResult("%s", b.String()), nil
}

func (h *Hub) handleAddVectorDocuments(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Documents []VectorDoc `json:"documents"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if len(args.Documents) == 0 {
		return errorResult("documents is required"), nil
	}
	ids, err := h.vectors.Add(args.Documents)
	if err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Added %d document(s): %s", len(ids), strings.Join(ids, ", ")), nil
}

func (h *Hub) handleUpdateVectorDocuments(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Documents []VectorDoc `json:"documents"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if len(args.Documents) == 0 {
		return errorResult("documents is required"), nil
	}
	if err := h.vectors.Update(args.Documents); err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Updated %d document(s)", len(args.Documents)), nil
}

func (h *Hub) handleDeleteVectorDocuments(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		IDs []string `json:"ids"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if len(args.IDs) == 0 {
		return errorResult("ids is required"), nil
	}
	n, err := h.vectors.Delete(args.IDs)
	if err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Deleted %d document(s)", n), nil
}

func (h *Hub) handleReindexVector(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	n, err := h.vectors.Reindex()
	if err != nil {
		return errorResult("%v", err), nil
	}
	return textResult("Reindexed %d document(s)", n), nil
}
