package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/nevindra/switchboard"
)

func TestBuildBody_SystemMessages(t *testing.T) {
	messages := []switchboard.ChatMessage{
		{Role: "system", Content: "You are a tool router."},
		{Role: "user", Content: "Hello"},
	}

	req := BuildBody(messages, nil, "gpt-4.1-mini")

	if req.Model != "gpt-4.1-mini" {
		t.Errorf("expected model 'gpt-4.1-mini', got %q", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}

	// System message stays as role:"system".
	if req.Messages[0].Role != "system" {
		t.Errorf("expected role 'system', got %q", req.Messages[0].Role)
	}
	if req.Messages[0].Content != "You are a tool router." {
		t.Errorf("unexpected system content: %v", req.Messages[0].Content)
	}

	if req.Messages[1].Role != "user" {
		t.Errorf("expected role 'user', got %q", req.Messages[1].Role)
	}
}

func TestBuildBody_UserAndAssistant(t *testing.T) {
	messages := []switchboard.ChatMessage{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello!"},
		{Role: "user", Content: "How are you?"},
	}

	req := BuildBody(messages, nil, "gpt-4.1-mini")

	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}

	if req.Messages[1].Role != "assistant" {
		t.Errorf("expected role 'assistant', got %q", req.Messages[1].Role)
	}
	if req.Messages[1].Content != "Hello!" {
		t.Errorf("unexpected assistant content: %v", req.Messages[1].Content)
	}
}

func TestBuildBody_AssistantWithToolCalls(t *testing.T) {
	messages := []switchboard.ChatMessage{
		{Role: "user", Content: "Quote AAPL"},
		{
			Role:    "assistant",
			Content: "Let me look that up.",
			ToolCalls: []switchboard.ToolCall{
				{
					ID:   "call_123",
					Name: "stock_quote",
					Args: json.RawMessage(`{"symbol":"AAPL"}`),
				},
			},
		},
	}

	req := BuildBody(messages, nil, "gpt-4.1-mini")

	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}

	assistantMsg := req.Messages[1]
	if assistantMsg.Role != "assistant" {
		t.Errorf("expected role 'assistant', got %q", assistantMsg.Role)
	}
	if assistantMsg.Content != "Let me look that up." {
		t.Errorf("unexpected content: %v", assistantMsg.Content)
	}
	if len(assistantMsg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(assistantMsg.ToolCalls))
	}

	tc := assistantMsg.ToolCalls[0]
	if tc.ID != "call_123" {
		t.Errorf("expected id 'call_123', got %q", tc.ID)
	}
	if tc.Type != "function" {
		t.Errorf("expected type 'function', got %q", tc.Type)
	}
	if tc.Function.Name != "stock_quote" {
		t.Errorf("expected function name 'stock_quote', got %q", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"symbol":"AAPL"}` {
		t.Errorf("unexpected arguments: %q", tc.Function.Arguments)
	}
}

func TestBuildBody_AssistantToolCallsWithoutContent(t *testing.T) {
	messages := []switchboard.ChatMessage{
		{
			Role: "assistant",
			ToolCalls: []switchboard.ToolCall{
				{ID: "call_1", Name: "lookup", Args: json.RawMessage(`{}`)},
			},
		},
	}

	req := BuildBody(messages, nil, "gpt-4.1-mini")

	// Content must be absent, not an empty string, when the assistant turn
	// carried only tool calls.
	data, err := json.Marshal(req.Messages[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	if _, ok := raw["content"]; ok {
		t.Errorf("expected content to be omitted, got %s", data)
	}
}

func TestBuildBody_ToolResultMessage(t *testing.T) {
	messages := []switchboard.ChatMessage{
		{Role: "tool", Content: `{"price":227.5}`, ToolCallID: "call_123"},
	}

	req := BuildBody(messages, nil, "gpt-4.1-mini")

	if len(req.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(req.Messages))
	}
	msg := req.Messages[0]
	if msg.Role != "tool" {
		t.Errorf("expected role 'tool', got %q", msg.Role)
	}
	if msg.ToolCallID != "call_123" {
		t.Errorf("expected tool_call_id 'call_123', got %q", msg.ToolCallID)
	}
	if msg.Content != `{"price":227.5}` {
		t.Errorf("unexpected content: %v", msg.Content)
	}
}

func TestBuildBody_Options(t *testing.T) {
	req := BuildBody(
		[]switchboard.ChatMessage{{Role: "user", Content: "Hi"}},
		nil, "gpt-4.1-mini",
		WithTemperature(0.2), WithMaxTokens(512), WithSeed(7),
	)

	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", req.Temperature)
	}
	if req.MaxTokens != 512 {
		t.Errorf("max_tokens = %d, want 512", req.MaxTokens)
	}
	if req.Seed == nil || *req.Seed != 7 {
		t.Errorf("seed = %v, want 7", req.Seed)
	}
}

func TestBuildToolDefs(t *testing.T) {
	tools := []switchboard.ToolDefinition{
		{
			Name:        "stock_quote",
			Description: "Real-time quote for a ticker",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"symbol":{"type":"string"}}}`),
		},
		{
			Name:        "discover_tools",
			Description: "Search the tool catalog",
			// No parameters: must become an empty object, not null.
		},
	}

	defs := BuildToolDefs(tools)

	if len(defs) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(defs))
	}
	if defs[0].Type != "function" {
		t.Errorf("expected type 'function', got %q", defs[0].Type)
	}
	if defs[0].Function.Name != "stock_quote" {
		t.Errorf("unexpected name: %q", defs[0].Function.Name)
	}
	if string(defs[1].Function.Parameters) != `{}` {
		t.Errorf("expected empty-object parameters, got %s", defs[1].Function.Parameters)
	}
}
