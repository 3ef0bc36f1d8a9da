package switchboard

import (
	"context"
	"encoding/json"
)

// AgentTool is one tool exposed to the agent for a turn: a definition the
// model sees and an invoke function the executor calls. Handle names the
// server the tool belongs to; it is empty for router meta-tools such as
// discover_tools.
type AgentTool struct {
	Handle     string
	Definition ToolDefinition
	Invoke     func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ExecRequest is one agent execution: the full message context, the
// assembled toolset, and the step budget.
type ExecRequest struct {
	Model    string
	Messages []ChatMessage
	Tools    []AgentTool
	MaxSteps int
}

// ExecResult is a completed agent execution.
//
// TouchedHandles lists the handles whose tools the agent actually invoked
// during the run. A nil slice means the executor cannot report touches; the
// router then falls back to treating every cached handle as touched. An
// empty non-nil slice means the agent invoked no server tools.
type ExecResult struct {
	FinalText      string
	TouchedHandles []string
}

// AgentExecutor runs a single agent execution against an assembled toolset.
// Implementations must observe req.MaxSteps as an upper bound on agent/tool
// round-trips and return an *ErrAgent (recoverable) when the budget is
// exhausted. Cancellation and deadlines ride on ctx.
type AgentExecutor interface {
	Run(ctx context.Context, req ExecRequest) (ExecResult, error)
}
