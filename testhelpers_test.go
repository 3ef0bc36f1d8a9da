package switchboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// --- embedding fake ---

// embedVocab spans the capability words used by test catalogs. Texts embed
// as bag-of-words vectors over it, so cosine similarity is high exactly
// when a query shares capability words with an entry.
var embedVocab = []string{"stock", "ticker", "price", "quote", "news", "headline", "weather", "forecast"}

func fakeVector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(embedVocab)+1)
	vec[0] = 0.1 // bias keeps vectors non-zero for unrelated texts
	for i, w := range embedVocab {
		if strings.Contains(lower, w) {
			vec[i+1] = 1
		}
	}
	return vec
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeEmbedder) Name() string    { return "fake-embed" }
func (f *fakeEmbedder) Dimensions() int { return len(embedVocab) + 1 }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// --- transport and binding fakes ---

type fakeBinding struct {
	name   string
	defs   []ToolDefinition
	execFn func(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)

	mu     sync.Mutex
	closes int
	execs  []string
}

func (b *fakeBinding) Definitions() []ToolDefinition { return b.defs }

func (b *fakeBinding) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	b.mu.Lock()
	b.execs = append(b.execs, name)
	fn := b.execFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, args)
	}
	return ToolResult{Content: "ok from " + b.name}, nil
}

func (b *fakeBinding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeBinding) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// fakeTransport opens fakeBindings keyed by spec.Command. Commands listed
// in fail refuse to open.
type fakeTransport struct {
	mu       sync.Mutex
	fail     map[string]bool
	tools    map[string][]ToolDefinition
	opened   []string
	bindings map[string]*fakeBinding
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail:     make(map[string]bool),
		tools:    make(map[string][]ToolDefinition),
		bindings: make(map[string]*fakeBinding),
	}
}

func (f *fakeTransport) Open(_ context.Context, spec TransportSpec) (Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := spec.Command
	if f.fail[name] {
		return nil, errors.New("connection refused")
	}
	defs := f.tools[name]
	if defs == nil {
		defs = []ToolDefinition{{
			Name:        strings.ReplaceAll(name, "-", "_") + "_lookup",
			Description: "Look data up via " + name,
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}}
	}
	b := &fakeBinding{name: name, defs: defs}
	f.opened = append(f.opened, name)
	f.bindings[name] = b
	return b, nil
}

func (f *fakeTransport) openCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.opened {
		if o == name {
			n++
		}
	}
	return n
}

func (f *fakeTransport) binding(name string) *fakeBinding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bindings[name]
}

// --- executor fakes ---

type fakeExecutor struct {
	mu   sync.Mutex
	fn   func(ctx context.Context, req ExecRequest) (ExecResult, error)
	reqs []ExecRequest
}

func (f *fakeExecutor) Run(ctx context.Context, req ExecRequest) (ExecResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return ExecResult{FinalText: "done", TouchedHandles: []string{}}, nil
	}
	return fn(ctx, req)
}

func (f *fakeExecutor) requests() []ExecRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecRequest(nil), f.reqs...)
}

// --- provider fake for LLMExecutor tests ---

type scriptStep struct {
	resp ChatResponse
	err  error
}

// scriptProvider pops canned responses in order and records every request.
type scriptProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	idx   int
	reqs  []ChatRequest
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.idx >= len(p.steps) {
		return ChatResponse{Content: "exhausted"}, nil
	}
	st := p.steps[p.idx]
	p.idx++
	return st.resp, st.err
}

func (p *scriptProvider) requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.reqs...)
}

// --- shared fixtures ---

// testCatalog's descriptions and keywords line up with embedVocab so
// queries like "stock price" hit fin-quotes and miss news-wire.
func testCatalog() []ServerEntry {
	return []ServerEntry{
		{
			Handle:      "fin-quotes",
			DisplayName: "Fin Quotes",
			Category:    "finance",
			Description: "Real-time stock quotes and ticker prices",
			Keywords:    []string{"stock", "ticker"},
			Transport:   TransportSpec{Kind: "stdio", Command: "fin-quotes"},
		},
		{
			Handle:      "news-wire",
			DisplayName: "News Wire",
			Category:    "news",
			Description: "Breaking news headlines",
			Keywords:    []string{"news", "headline"},
			Transport:   TransportSpec{Kind: "stdio", Command: "news-wire"},
		},
	}
}

func findTool(req ExecRequest, name string) (AgentTool, bool) {
	for _, tool := range req.Tools {
		if tool.Definition.Name == name {
			return tool, true
		}
	}
	return AgentTool{}, false
}

// invokeDiscover calls the discover_tools meta-tool the way an agent would
// and decodes its result.
func invokeDiscover(t *testing.T, ctx context.Context, req ExecRequest, queries []string) []SearchResult {
	t.Helper()
	tool, ok := findTool(req, DiscoverToolName)
	if !ok {
		t.Fatalf("toolset %v does not include %s", toolNames(req), DiscoverToolName)
	}
	args, err := json.Marshal(map[string][]string{"queries": queries})
	if err != nil {
		t.Fatal(err)
	}
	res, err := tool.Invoke(ctx, args)
	if err != nil {
		t.Fatalf("discover_tools: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("discover_tools error: %s", res.Error)
	}
	var results []SearchResult
	if err := json.Unmarshal([]byte(res.Content), &results); err != nil {
		t.Fatalf("discover_tools returned %q: %v", res.Content, err)
	}
	return results
}

func toolNames(req ExecRequest) []string {
	names := make([]string, len(req.Tools))
	for i, tool := range req.Tools {
		names[i] = tool.Definition.Name
	}
	return names
}
