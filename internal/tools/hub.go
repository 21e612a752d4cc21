package tools

import (
	"fmt"

	"github.com/batalabs/knowd/internal/provider"
)

// Hub-delegated tools. Each fails soft when the hub is unreachable so the
// agent can finish without memory rather than abort the whole run.

func kbVectorSearchTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "kb_vector_search",
			Description: "Semantic search over the indexed knowledge base documents. Returns the most relevant passages with their source paths.",
			Properties: map[string]provider.ToolProp{
				"query": {Type: "string", Description: "Natural-language query"},
				"top_k": {Type: "integer", Description: "Number of passages to return (default: 5, max: 20)"},
			},
			Required: []string{"query"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			query, err := strArg(input, "query")
			if err != nil {
				return "", err
			}
			if tc.Hub == nil {
				return "", fmt.Errorf("vector search unavailable: hub not connected")
			}
			topK := intArg(input, "top_k", 5, 20)
			out, err := tc.Hub.VectorSearch(tc.context(), query, topK, tc.KBID, tc.UserID)
			if err != nil {
				return "", fmt.Errorf("vector search failed: %w", err)
			}
			return out, nil
		},
	}
}

func memoryStoreTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "mcp_memory_store",
			Description: "Store a fact in the user's long-term memory under a category, e.g. category 'preferences', content 'prefers PostgreSQL over MySQL'.",
			Properties: map[string]provider.ToolProp{
				"category": {Type: "string", Description: "Memory category, e.g. 'preferences', 'projects'"},
				"content":  {Type: "string", Description: "The fact to remember"},
			},
			Required: []string{"category", "content"},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			category, err := strArg(input, "category")
			if err != nil {
				return "", err
			}
			content, err := strArg(input, "content")
			if err != nil {
				return "", err
			}
			if tc.Hub == nil {
				return "", fmt.Errorf("memory unavailable: hub not connected")
			}
			out, err := tc.Hub.StoreMemory(tc.context(), tc.UserID, category, content)
			if err != nil {
				return "", fmt.Errorf("memory store failed: %w", err)
			}
			return out, nil
		},
	}
}

func memoryRetrieveTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "mcp_memory_retrieve",
			Description: "Retrieve facts from the user's long-term memory, optionally filtered by category and query.",
			Properties: map[string]provider.ToolProp{
				"category": {Type: "string", Description: "Category to search (empty: all categories)"},
				"query":    {Type: "string", Description: "Filter text (empty: everything in the category)"},
				"limit":    {Type: "integer", Description: "Maximum facts to return (default: 10)"},
			},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			if tc.Hub == nil {
				return "", fmt.Errorf("memory unavailable: hub not connected")
			}
			out, err := tc.Hub.RetrieveMemory(tc.context(), tc.UserID,
				optStrArg(input, "category"), optStrArg(input, "query"),
				intArg(input, "limit", 10, 50))
			if err != nil {
				return "", fmt.Errorf("memory retrieve failed: %w", err)
			}
			return out, nil
		},
	}
}

func memoryListCategoriesTool() ToolDef {
	return ToolDef{
		Spec: provider.ToolSpec{
			Name:        "mcp_memory_list_categories",
			Description: "List the categories in the user's long-term memory with how many facts each holds.",
			Properties:  map[string]provider.ToolProp{},
		},
		Execute: func(input map[string]any, tc *ToolContext) (string, error) {
			if tc.Hub == nil {
				return "", fmt.Errorf("memory unavailable: hub not connected")
			}
			out, err := tc.Hub.ListCategories(tc.context(), tc.UserID)
			if err != nil {
				return "", fmt.Errorf("memory list failed: %w", err)
			}
			return out, nil
		},
	}
}
