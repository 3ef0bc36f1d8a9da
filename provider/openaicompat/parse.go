package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/switchboard"
)

// ParseResponse converts an OpenAI-format ChatResponse to a switchboard
// ChatResponse. It extracts content, tool calls, and usage from choices[0].
func ParseResponse(resp ChatResponse) (switchboard.ChatResponse, error) {
	var out switchboard.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = switchboard.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to switchboard ToolCalls.
// OpenAI returns function.arguments as a JSON string; invalid payloads fall
// back to an empty object so the executor can feed the model a proper error
// instead of crashing on malformed arguments.
func ParseToolCalls(tcs []ToolCallRequest) []switchboard.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]switchboard.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, switchboard.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
