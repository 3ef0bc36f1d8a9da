package openaicompat

import (
	"encoding/json"
	"testing"
)

func TestParseResponse_TextResponse(t *testing.T) {
	resp := ChatResponse{
		ID: "chatcmpl-123",
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChoiceMessage{
					Role:    "assistant",
					Content: "AAPL last traded at 227.50.",
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     10,
			CompletionTokens: 8,
			TotalTokens:      18,
		},
	}

	result, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}

	if result.Content != "AAPL last traded at 227.50." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(result.ToolCalls))
	}
	if result.Usage.InputTokens != 10 {
		t.Errorf("expected 10 input tokens, got %d", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 8 {
		t.Errorf("expected 8 output tokens, got %d", result.Usage.OutputTokens)
	}
}

func TestParseResponse_ToolCallResponse(t *testing.T) {
	resp := ChatResponse{
		ID: "chatcmpl-456",
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChoiceMessage{
					Role: "assistant",
					ToolCalls: []ToolCallRequest{
						{
							ID:   "call_abc",
							Type: "function",
							Function: FunctionCall{
								Name:      "stock_quote",
								Arguments: `{"symbol":"AAPL"}`,
							},
						},
					},
				},
				FinishReason: "tool_calls",
			},
		},
	}

	result, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}

	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "call_abc" {
		t.Errorf("expected id 'call_abc', got %q", tc.ID)
	}
	if tc.Name != "stock_quote" {
		t.Errorf("expected name 'stock_quote', got %q", tc.Name)
	}
	if string(tc.Args) != `{"symbol":"AAPL"}` {
		t.Errorf("unexpected args: %s", tc.Args)
	}
}

func TestParseResponse_EmptyChoices(t *testing.T) {
	result, err := ParseResponse(ChatResponse{ID: "chatcmpl-0"})
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if result.Content != "" || len(result.ToolCalls) != 0 {
		t.Errorf("expected zero-value response, got %+v", result)
	}
}

func TestParseToolCalls_InvalidArguments(t *testing.T) {
	tcs := []ToolCallRequest{
		{
			ID:       "call_bad",
			Type:     "function",
			Function: FunctionCall{Name: "lookup", Arguments: `{"broken`},
		},
	}

	out := ParseToolCalls(tcs)

	if len(out) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(out))
	}
	if string(out[0].Args) != `{}` {
		t.Errorf("expected fallback empty object, got %s", out[0].Args)
	}
	if !json.Valid(out[0].Args) {
		t.Error("fallback args are not valid JSON")
	}
}

func TestParseToolCalls_Empty(t *testing.T) {
	if out := ParseToolCalls(nil); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
}
