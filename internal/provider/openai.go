package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	BaseURL string // e.g. https://api.openai.com/v1 or http://127.0.0.1:11434/v1
	APIKey  string
	Model   string

	// HTTPClient is swappable for tests; nil uses a default with a long
	// timeout, since per-call deadlines come from the context.
	HTTPClient *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 5 * time.Minute}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultHTTPClient
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

// Chat sends the conversation and returns the model's reply. The context
// deadline bounds the whole call.
func (c *Client) Chat(ctx context.Context, msgs []Message, tools []ToolSpec) (Response, error) {
	reqBody := wireRequest{
		Model:    c.Model,
		Messages: toWireMessages(msgs),
		Tools:    toWireTools(tools),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		errType := ""
		errMessage := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp struct {
			Error *struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil {
			errType = errResp.Error.Type
			errMessage = errResp.Error.Message
		}
		return Response{}, NewAPIError(resp.StatusCode, errType, errMessage, resp.Header)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return Response{}, fmt.Errorf("response has no choices")
	}

	choice := wire.Choices[0]
	out := Response{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func convertProp(v ToolProp) map[string]any {
	prop := map[string]any{
		"type": v.Type,
	}
	if v.Description != "" {
		prop["description"] = v.Description
	}
	if len(v.Enum) > 0 {
		prop["enum"] = v.Enum
	}
	if v.Items != nil {
		prop["items"] = convertProp(*v.Items)
	}
	if len(v.Properties) > 0 {
		nested := make(map[string]any, len(v.Properties))
		for k, np := range v.Properties {
			nested[k] = convertProp(np)
		}
		prop["properties"] = nested
	}
	if len(v.Required) > 0 {
		prop["required"] = v.Required
	}
	return prop
}

func toWireTools(specs []ToolSpec) []wireTool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]wireTool, len(specs))
	for i, s := range specs {
		props := make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = convertProp(v)
		}
		req := s.Required
		if req == nil {
			req = []string{}
		}
		params := map[string]any{
			"type":       "object",
			"properties": props,
			"required":   req,
		}
		paramsJSON, _ := json.Marshal(params)
		tools[i] = wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  paramsJSON,
			},
		}
	}
	return tools
}
