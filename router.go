package switchboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Deps are the collaborators a Router is wired with. Catalog, Embedding,
// Executor and Transport are required; Logger is optional.
type Deps struct {
	// Catalog is the immutable server catalog, in insertion order.
	Catalog []ServerEntry
	// Embedding computes catalog and query vectors.
	Embedding EmbeddingProvider
	// Executor runs one agent turn. NewLLMExecutor is the stock choice.
	Executor AgentExecutor
	// Transport opens server bindings. mcp.NewOpener is the stock choice.
	Transport Transport
	// Logger receives router logs. Nil discards them unless Config.Debug
	// is set, which falls back to a stderr handler at debug level.
	Logger *slog.Logger
}

// session carries one conversation. Its mutex serializes HandleTurn within
// the session; distinct sessions run turns concurrently.
type session struct {
	mu      sync.Mutex
	history *History
}

// Router orchestrates agent turns over a lazily bound tool catalog: it
// exposes cached server tools plus the discover_tools meta-tool to the
// agent, opens bindings the turn discovers, and settles cache, health,
// metrics and history according to how the turn ended.
type Router struct {
	cfg       Config
	registry  *Registry
	cache     *BindingCache
	health    *HealthTracker
	metrics   *MetricsLog
	nudger    *nudger
	discover  *discoverTool
	transport Transport
	executor  AgentExecutor
	logger    *slog.Logger

	sessMu   sync.Mutex
	sessions map[string]*session
}

// New wires a Router. Configuration gaps fall back to DefaultConfig values;
// invalid values and missing collaborators surface as *ErrConfig.
func New(cfg Config, deps Deps) (*Router, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Embedding == nil {
		return nil, &ErrConfig{Field: "deps.embedding", Reason: "embedding provider is required"}
	}
	if deps.Executor == nil {
		return nil, &ErrConfig{Field: "deps.executor", Reason: "agent executor is required"}
	}
	if deps.Transport == nil {
		return nil, &ErrConfig{Field: "deps.transport", Reason: "transport is required"}
	}

	logger := deps.Logger
	if logger == nil {
		if cfg.Debug {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		} else {
			logger = nopLogger
		}
	}

	registry, err := NewRegistry(deps.Catalog, deps.Embedding, cfg, logger)
	if err != nil {
		return nil, err
	}

	r := &Router{
		cfg:       cfg,
		registry:  registry,
		cache:     NewBindingCache(cfg.MaxCacheSize),
		health:    NewHealthTracker(cfg.HealthCooldown),
		metrics:   NewMetricsLog(cfg.DataDir, registry.Handles(), logger),
		nudger:    newNudger(cfg.KeywordNudge, logger),
		transport: deps.Transport,
		executor:  deps.Executor,
		logger:    logger.With("component", "router"),
		sessions:  make(map[string]*session),
	}
	r.discover = newDiscoverTool(r, cfg.DiscoverBindingK, logger)
	return r, nil
}

// Initialize prepares the router for turns: embeds the catalog (fatal on
// failure, discovery is meaningless without vectors), replays the usage
// file, and preloads the top-ranked bindings. Call once before HandleTurn.
func (r *Router) Initialize(ctx context.Context) error {
	if err := r.registry.Initialize(ctx); err != nil {
		return err
	}
	if err := r.metrics.Load(); err != nil {
		// Degrade to memory-only metrics rather than refusing to start.
		r.logger.Warn("could not load usage metrics", "error", err)
	}
	r.preload(ctx)
	return nil
}

// preload opens bindings for the historically most useful handles, best
// first, until PreloadCount are live or candidates run out. Failures are
// logged and skipped: a handle that never got to serve is not marked
// unhealthy and earns no metrics record.
func (r *Router) preload(ctx context.Context) {
	if r.cfg.PreloadCount <= 0 {
		return
	}
	opened := 0
	for _, h := range r.metrics.RankTop(0) {
		if opened >= r.cfg.PreloadCount {
			break
		}
		entry, ok := r.registry.Entry(h)
		if !ok {
			continue // catalog changed since the metrics were written
		}
		binding, err := r.transport.Open(ctx, entry.Transport)
		if err != nil {
			r.logger.Warn("preload skipped", "handle", h, "error", err)
			continue
		}
		r.cache.Insert(h, binding)
		opened++
		r.logger.Info("preloaded binding", "handle", h)
	}
}

// HandleTurn runs one user turn in the given session and returns the
// assistant's reply. On failure the session history is rewound as if the
// turn never happened, handles the turn itself introduced are evicted and
// quarantined, and the surfaced error is always an *ErrAgent whose
// Recoverable flag tells the caller whether a plain retry makes sense.
func (r *Router) HandleTurn(ctx context.Context, sessionID, userText string) (string, error) {
	sess := r.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	pre := sess.history.Checkpoint()
	sess.history.Append("user", userText)

	// Nudge before recording the pre-turn set: a binding the heuristic
	// opens is treated like a preloaded one, not like one this turn's
	// agent discovered.
	r.nudger.apply(ctx, userText, r.categoryCovered, func(ctx context.Context, queries []string) {
		r.discover.discover(ctx, queries)
	})

	preHandles := make(map[string]bool)
	for _, h := range r.cache.Contents() {
		preHandles[h] = true
	}

	messages := append([]ChatMessage{SystemMessage(r.buildInstructions())}, sess.history.Messages()...)
	result, err := r.executor.Run(ctx, ExecRequest{
		Model:    r.cfg.ExecutionModel,
		Messages: messages,
		Tools:    r.assembleTools(),
		MaxSteps: r.cfg.MaxSteps,
	})
	if err != nil {
		r.settleFailed(pre, preHandles, sess)
		agentErr := ensureAgentErr(err)
		r.logger.Warn("turn failed", "session", sessionID,
			"reason", agentErr.Reason, "recoverable", agentErr.Recoverable)
		return "", agentErr
	}

	sess.history.Append("assistant", result.FinalText)
	sess.history.Trim(r.cfg.MaxHistoryTurns)

	touched := result.TouchedHandles
	if touched == nil {
		// Executor does not track invocations; assume every cached
		// binding served the turn.
		touched = r.cache.Contents()
	}
	for _, h := range touched {
		r.cache.Touch(h)
		r.health.MarkOK(h)
		r.logUsage(h, OutcomeSuccess)
	}
	return result.FinalText, nil
}

// settleFailed rewinds the failed turn: history back to its checkpoint,
// then eviction and quarantine of exactly the handles this turn introduced.
// Pre-existing bindings are left alone; a turn may fail for reasons that
// have nothing to do with them.
func (r *Router) settleFailed(pre Marker, preHandles map[string]bool, sess *session) {
	sess.history.Rollback(pre)
	for _, h := range r.cache.Contents() {
		if preHandles[h] {
			continue
		}
		r.cache.Evict(h)
		r.health.MarkFail(h)
		r.logUsage(h, OutcomeFailure)
	}
}

// assembleTools builds the agent-facing toolset: the discovery meta-tool
// plus every cached binding's tools. On a name collision the binding
// closest to MRU wins and the loser is logged.
func (r *Router) assembleTools() []AgentTool {
	tools := []AgentTool{{Definition: r.discover.definition(), Invoke: r.discover.run}}
	names := map[string]bool{DiscoverToolName: true}
	for _, h := range r.cache.Contents() {
		binding, ok := r.cache.Peek(h)
		if !ok {
			continue
		}
		for _, def := range binding.Definitions() {
			if names[def.Name] {
				r.logger.Warn("tool name collision, keeping most recent binding's tool",
					"tool", def.Name, "handle", h)
				continue
			}
			names[def.Name] = true
			tools = append(tools, AgentTool{
				Handle:     h,
				Definition: def,
				Invoke: func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
					return binding.Execute(ctx, def.Name, args)
				},
			})
		}
	}
	return tools
}

// buildInstructions renders the per-turn system prompt reflecting the
// current cache so the model knows what it has and when to discover more.
func (r *Router) buildInstructions() string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant with access to external tool servers.\n\n")

	cached := r.cache.Contents()
	if len(cached) == 0 {
		b.WriteString("No tool servers are connected yet.\n")
	} else {
		b.WriteString("Connected servers:\n")
		for _, h := range cached {
			entry, ok := r.registry.Entry(h)
			if !ok {
				continue
			}
			b.WriteString("  - " + entry.DisplayName + ": " + entry.Description)
			if len(entry.Keywords) > 0 {
				kws := entry.Keywords
				if len(kws) > 5 {
					kws = kws[:5]
				}
				b.WriteString(" (covers: " + strings.Join(kws, ", ") + ")")
			}
			b.WriteString("\n")
		}
		b.WriteString("Each server handles only its listed capabilities.\n")
	}

	b.WriteString("\nWhen a request needs a capability no connected server covers, call " +
		DiscoverToolName + " with two or three short queries describing it, then use the " +
		"discovered tools. Never refuse for lack of access before trying " + DiscoverToolName +
		". Answer from your own knowledge only when the question needs no live data.")
	return b.String()
}

// categoryCovered reports whether any cached handle belongs to category.
func (r *Router) categoryCovered(category string) bool {
	for _, h := range r.cache.Contents() {
		if entry, ok := r.registry.Entry(h); ok && entry.Category == category {
			return true
		}
	}
	return false
}

// SearchCatalog implements DiscoveryPort: catalog search excluding handles
// that are cached or cooling down.
func (r *Router) SearchCatalog(ctx context.Context, queries []string) ([]SearchResult, error) {
	return r.registry.Search(ctx, queries, r.cache.Contents(), r.health.IsHealthy)
}

// TryBind implements DiscoveryPort: open a binding for handle and install
// it in the cache.
func (r *Router) TryBind(ctx context.Context, handle string) error {
	entry, ok := r.registry.Entry(handle)
	if !ok {
		return &ErrTransportOpen{Handle: handle, Err: errors.New("not in catalog")}
	}
	binding, err := r.transport.Open(ctx, entry.Transport)
	if err != nil {
		var open *ErrTransportOpen
		if errors.As(err, &open) {
			return err
		}
		return &ErrTransportOpen{Handle: handle, Err: err}
	}
	r.cache.Insert(handle, binding)
	return nil
}

// QuarantineBinding implements DiscoveryPort: record handle as failed in
// health and metrics. Used when a discovered binding cannot be opened, so
// the failure is visible even though the handle never entered the cache.
func (r *Router) QuarantineBinding(handle string) {
	r.health.MarkFail(handle)
	r.logUsage(handle, OutcomeFailure)
}

// Shutdown releases every binding and closes the metrics file. The context
// bounds how long connection teardown may take.
func (r *Router) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.cache.ReleaseAll()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.metrics.Close()
}

// CacheContents returns the cached handles, most recently used first.
func (r *Router) CacheContents() []string { return r.cache.Contents() }

// HealthSnapshot returns a copy of every live failure record.
func (r *Router) HealthSnapshot() map[string]HealthRecord { return r.health.Snapshot() }

// RecentEvents returns up to n usage events, newest first.
func (r *Router) RecentEvents(n int) []UsageRecord { return r.metrics.Recent(n) }

// UsageTotals returns the per-handle success and failure tallies.
func (r *Router) UsageTotals() map[string]HandleUsage { return r.metrics.Totals() }

// Catalog returns a copy of the server catalog.
func (r *Router) Catalog() []ServerEntry { return r.registry.Entries() }

// session returns the session for id, creating it on first use. An empty
// id maps to a shared default session.
func (r *Router) session(id string) *session {
	if id == "" {
		id = "default"
	}
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &session{history: NewHistory("")}
		r.sessions[id] = s
	}
	return s
}

// logUsage appends a metrics record, logging rather than surfacing append
// failures; the turn must not fail because the disk did.
func (r *Router) logUsage(handle string, outcome Outcome) {
	if err := r.metrics.Log(handle, outcome); err != nil {
		r.logger.Error("metrics append failed", "handle", handle, "error", err)
	}
}

// ensureAgentErr guarantees the error surfaced from HandleTurn is an
// *ErrAgent even when a custom executor returns something else.
func ensureAgentErr(err error) *ErrAgent {
	var ea *ErrAgent
	if errors.As(err, &ea) {
		return ea
	}
	return &ErrAgent{Reason: fmt.Sprintf("agent execution failed: %v", err), Err: err}
}

// nopLogger is used wherever no logger is configured. slog.New requires a
// non-nil handler, so a tiny discard handler backs it.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
