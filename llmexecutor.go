package switchboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// maxToolResultLen is the maximum rune length for a tool result fed back to
// the model. Longer results are truncated with a marker so the model knows
// content was trimmed.
const maxToolResultLen = 100_000

// maxParallelDispatch caps concurrent tool-call goroutines so one agent
// step cannot overwhelm external servers.
const maxParallelDispatch = 10

// LLMExecutor is the stock AgentExecutor: a tool-calling loop over a
// Provider. Tool failures are fed back to the model as error results and do
// not fail the run; the run fails only on provider errors or when the step
// budget runs out before the model produces a final answer.
type LLMExecutor struct {
	provider Provider
	logger   *slog.Logger
}

// ExecutorOption configures an LLMExecutor.
type ExecutorOption func(*LLMExecutor)

// WithExecutorLogger routes executor logs to l.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *LLMExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewLLMExecutor returns an executor running on p.
func NewLLMExecutor(p Provider, opts ...ExecutorOption) *LLMExecutor {
	e := &LLMExecutor{provider: p, logger: nopLogger}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// Run implements AgentExecutor. A step is one provider round-trip; every
// handle whose tool the model invokes is reported as touched, whatever the
// invocation's outcome.
func (e *LLMExecutor) Run(ctx context.Context, req ExecRequest) (ExecResult, error) {
	byName := make(map[string]AgentTool, len(req.Tools))
	defs := make([]ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		byName[t.Definition.Name] = t
		defs = append(defs, t.Definition)
	}

	messages := append([]ChatMessage(nil), req.Messages...)
	touched := make([]string, 0, 4)
	seen := make(map[string]bool)

	maxSteps := req.MaxSteps
	if maxSteps < 1 {
		maxSteps = 1
	}
	for step := 0; step < maxSteps; step++ {
		resp, err := e.provider.Chat(ctx, ChatRequest{Model: req.Model, Messages: messages, Tools: defs})
		if err != nil {
			return ExecResult{TouchedHandles: touched}, &ErrAgent{
				Reason:      "provider " + e.provider.Name() + " failed",
				Recoverable: isTransient(err) || errors.Is(err, context.DeadlineExceeded),
				Err:         err,
			}
		}

		// No tool calls means the model is done.
		if len(resp.ToolCalls) == 0 {
			return ExecResult{FinalText: resp.Content, TouchedHandles: touched}, nil
		}
		e.logger.Debug("agent step", "step", step, "tool_calls", len(resp.ToolCalls))

		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := e.dispatchParallel(ctx, resp.ToolCalls, byName)
		for i, tc := range resp.ToolCalls {
			res := results[i]
			if res.handle != "" && !seen[res.handle] {
				seen[res.handle] = true
				touched = append(touched, res.handle)
			}
			content := res.content
			if len([]rune(content)) > maxToolResultLen {
				content = truncateStr(content, maxToolResultLen) + "\n\n[output truncated]"
			}
			messages = append(messages, ToolResultMessage(tc.ID, content))
		}
	}

	e.logger.Warn("step budget exhausted", "max_steps", maxSteps)
	return ExecResult{TouchedHandles: touched}, &ErrAgent{
		Reason:      fmt.Sprintf("step budget of %d exhausted without a final answer", maxSteps),
		Recoverable: true,
	}
}

// execOutcome is the result of dispatching a single tool call.
type execOutcome struct {
	content string
	isError bool
	handle  string // owning binding, "" for the meta-tool and unknown tools
}

// dispatchOne routes a tool call to its AgentTool. Errors and panics become
// error results for the model, never run failures.
func (e *LLMExecutor) dispatchOne(ctx context.Context, tc ToolCall, byName map[string]AgentTool) (out execOutcome) {
	tool, ok := byName[tc.Name]
	if !ok {
		return execOutcome{content: fmt.Sprintf("error: unknown tool %q", tc.Name), isError: true}
	}
	out.handle = tool.Handle
	defer func() {
		if p := recover(); p != nil {
			out.content = fmt.Sprintf("error: tool %q panic: %v", tc.Name, p)
			out.isError = true
		}
	}()
	result, err := tool.Invoke(ctx, tc.Args)
	if err != nil {
		out.content = "error: " + err.Error()
		out.isError = true
		return out
	}
	if result.Error != "" {
		out.content = "error: " + result.Error
		out.isError = true
		return out
	}
	out.content = result.Content
	return out
}

// dispatchParallel runs the step's tool calls concurrently and returns
// results in call order. Single calls run inline. Multiple calls use a
// fixed worker pool of min(len(calls), maxParallelDispatch) goroutines
// pulling from a shared work channel.
//
// Collection is context-aware: if ctx is cancelled while calls are still
// in flight, incomplete slots are filled with context-error results instead
// of blocking.
func (e *LLMExecutor) dispatchParallel(ctx context.Context, calls []ToolCall, byName map[string]AgentTool) []execOutcome {
	if len(calls) == 1 {
		return []execOutcome{e.dispatchOne(ctx, calls[0], byName)}
	}

	type workItem struct {
		idx int
		tc  ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	type indexedOutcome struct {
		idx int
		out execOutcome
	}
	resultCh := make(chan indexedOutcome, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexedOutcome{w.idx, execOutcome{content: "error: " + ctx.Err().Error(), isError: true}}
					continue
				}
				resultCh <- indexedOutcome{w.idx, e.dispatchOne(ctx, w.tc, byName)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]execOutcome, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.out
			seen[r.idx] = true
		case <-ctx.Done():
			errOut := execOutcome{content: "error: " + ctx.Err().Error(), isError: true}
			for i := range results {
				if !seen[i] {
					results[i] = errOut
				}
			}
			return results
		}
	}
	for i := range results {
		if !seen[i] {
			results[i] = execOutcome{content: "error: result not received", isError: true}
		}
	}
	return results
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	// Byte length <= n guarantees rune count <= n, avoiding the []rune
	// allocation for short strings.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
