package switchboard

import (
	"encoding/json"
	"time"
)

// --- Catalog types ---

// ServerEntry is a static catalog record describing one tool server.
// Entries are immutable after construction; Handle is the router's primary
// key for the cache, health tracker, and usage metrics.
type ServerEntry struct {
	Handle      string        `json:"handle"`
	DisplayName string        `json:"display_name"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Keywords    []string      `json:"keywords,omitempty"`
	Transport   TransportSpec `json:"transport"`
}

// TransportSpec tells the transport layer how to reach a server. The router
// never interprets it beyond passing it to Transport.Open.
type TransportSpec struct {
	Kind    string            `json:"kind"` // "stdio" or "http"
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// SearchResult is one semantic-search hit against the catalog.
type SearchResult struct {
	Handle      string  `json:"handle"`
	Score       float32 `json:"score"`
	Description string  `json:"description"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ChatRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// --- Usage metrics types ---

// Outcome classifies one usage record.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// UsageRecord is one line of the metrics JSONL file.
type UsageRecord struct {
	TS      int64   `json:"ts"` // epoch milliseconds
	Handle  string  `json:"handle"`
	Outcome Outcome `json:"outcome"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
