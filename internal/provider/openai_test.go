package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChat_TextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("auth header = %q", got)
		}
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "hello"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL + "/v1", APIKey: "key-1", Model: "test-model"}
	resp, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "hello" || resp.StopReason != "stop" || resp.WantsTools() {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChat_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "file_create" {
			t.Errorf("tools = %+v", req.Tools)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "file_create",
							"arguments": `{"path":"a.md"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Model: "m"}
	spec := ToolSpec{
		Name:        "file_create",
		Description: "create a file",
		Properties:  map[string]ToolProp{"path": {Type: "string"}},
		Required:    []string{"path"},
	}
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, []ToolSpec{spec})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.WantsTools() || resp.ToolCalls[0].Name != "file_create" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(429)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "slow down", "type": "rate_limit_error"},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Model: "m"}
	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %T %v, want *APIError", err, err)
	}
	if !apiErr.IsRetryable() || apiErr.RetryAfterMs != 2000 || apiErr.Message != "slow down" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestChat_ToolResultRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "tool" || last.ToolCallID != "call_1" {
			t.Errorf("tool result message = %+v", last)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "done"},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Model: "m"}
	msgs := []Message{
		{Role: RoleUser, Content: "create it"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "file_create", Arguments: "{}"}}},
		{Role: RoleTool, ToolCallID: "call_1", Content: "ok"},
	}
	resp, err := c.Chat(context.Background(), msgs, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "done" {
		t.Errorf("resp = %+v", resp)
	}
}
