package llm

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

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
}

// NewAnthropicClient creates a client for the given endpoint and key.
func NewAnthropicClient(baseURL, apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		retry: DefaultRetryPolicy,
	}
}

// WithRetryPolicy overrides the default retry bounds.
func (c *AnthropicClient) WithRetryPolicy(p RetryPolicy) *AnthropicClient {
	c.retry = p
	return c
}

// Wire shapes for the messages API.

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SendMessage sends the request and returns the text reply.
func (c *AnthropicClient) SendMessage(ctx context.Context, req Request) (string, error) {
	resp, err := c.send(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// SendMessageWithTools sends the request with tool declarations.
func (c *AnthropicClient) SendMessageWithTools(ctx context.Context, req Request, tools []ToolDefinition) (*Response, error) {
	return c.send(ctx, req, tools)
}

func (c *AnthropicClient) send(ctx context.Context, req Request, tools []ToolDefinition) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
	}
	for _, m := range req.Messages {
		role := m.Role
		// The wire protocol has no system role inside the message list;
		// synthetic system entries travel as user turns.
		if role == RoleSystem {
			role = RoleUser
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: m.Content})
	}
	for _, t := range tools {
		body.Tools = append(body.Tools, anthropicTool(t))
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result *Response
	err = c.retry.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if httpResp.StatusCode != http.StatusOK {
			return &apiError{Status: httpResp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return &apiError{Status: httpResp.StatusCode, Body: parsed.Error.Message}
		}

		result = responseFrom(parsed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func responseFrom(parsed anthropicResponse) *Response {
	resp := &Response{StopReason: parsed.StopReason}
	var text strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	resp.Content = strings.TrimSpace(text.String())
	return resp
}
