package switchboard

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type routerFixture struct {
	router    *Router
	transport *fakeTransport
	executor  *fakeExecutor
	embedder  *fakeEmbedder
	dataDir   string
}

func newTestRouter(t *testing.T, cfg Config, catalog []ServerEntry) *routerFixture {
	t.Helper()
	fix := newUninitializedRouter(t, cfg, catalog)
	if err := fix.router.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return fix
}

func newUninitializedRouter(t *testing.T, cfg Config, catalog []ServerEntry) *routerFixture {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	tr := newFakeTransport()
	ex := &fakeExecutor{}
	emb := &fakeEmbedder{}
	r, err := New(cfg, Deps{
		Catalog:   catalog,
		Embedding: emb,
		Executor:  ex,
		Transport: tr,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return &routerFixture{router: r, transport: tr, executor: ex, embedder: emb, dataDir: cfg.DataDir}
}

func writeUsageFile(t *testing.T, dir string, recs []UsageRecord) {
	t.Helper()
	var b strings.Builder
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			t.Fatal(err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, metricsFileName), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRouterNewValidation(t *testing.T) {
	dir := t.TempDir()
	emb := &fakeEmbedder{}
	ex := &fakeExecutor{}
	tr := newFakeTransport()
	base := Config{DataDir: dir}

	tests := []struct {
		name  string
		cfg   Config
		deps  Deps
		field string
	}{
		{"missing embedding", base, Deps{Executor: ex, Transport: tr}, "deps.embedding"},
		{"missing executor", base, Deps{Embedding: emb, Transport: tr}, "deps.executor"},
		{"missing transport", base, Deps{Embedding: emb, Executor: ex}, "deps.transport"},
		{
			"bad cache size",
			Config{DataDir: dir, MaxCacheSize: -3},
			Deps{Embedding: emb, Executor: ex, Transport: tr},
			"max_cache_size",
		},
		{
			"duplicate handles",
			base,
			Deps{
				Catalog:   []ServerEntry{{Handle: "a"}, {Handle: "a"}},
				Embedding: emb, Executor: ex, Transport: tr,
			},
			"servers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			var cerr *ErrConfig
			if !errors.As(err, &cerr) {
				t.Fatalf("New = %v, want *ErrConfig", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestRouterInitializeEmbedFailure(t *testing.T) {
	fix := newUninitializedRouter(t, Config{}, testCatalog())
	fix.embedder.err = errors.New("api key rejected")

	err := fix.router.Initialize(context.Background())
	var eerr *ErrEmbedding
	if !errors.As(err, &eerr) {
		t.Fatalf("Initialize = %v, want *ErrEmbedding", err)
	}
}

func TestRouterTurnDiscoversAndConnects(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		if _, ok := findTool(req, "fin_quotes_lookup"); ok {
			t.Error("fin-quotes tools exposed before any discovery")
		}
		results := invokeDiscover(t, ctx, req, []string{"stock price today"})
		if len(results) != 1 || results[0].Handle != "fin-quotes" {
			t.Fatalf("discovery results = %v, want fin-quotes", results)
		}
		return ExecResult{FinalText: "AAPL trades at 190", TouchedHandles: []string{"fin-quotes"}}, nil
	}

	reply, err := fix.router.HandleTurn(ctx, "", "what is AAPL trading at?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reply != "AAPL trades at 190" {
		t.Errorf("reply = %q", reply)
	}
	if got := fix.router.CacheContents(); !reflect.DeepEqual(got, []string{"fin-quotes"}) {
		t.Errorf("CacheContents = %v, want [fin-quotes]", got)
	}
	if n := fix.transport.openCount("fin-quotes"); n != 1 {
		t.Errorf("fin-quotes opened %d times, want 1", n)
	}
	if len(fix.router.HealthSnapshot()) != 0 {
		t.Errorf("HealthSnapshot = %v, want empty after a clean turn", fix.router.HealthSnapshot())
	}
	if got := fix.router.UsageTotals()["fin-quotes"]; got.Successes != 1 || got.Failures != 0 {
		t.Errorf("fin-quotes usage = %+v, want one success", got)
	}
	if got := fix.router.session("").history.Len(); got != 2 {
		t.Errorf("history length = %d, want user and assistant", got)
	}

	// Second turn: the binding is reused, not reopened, and discovery now
	// excludes it from the catalog results.
	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		if _, ok := findTool(req, "fin_quotes_lookup"); !ok {
			t.Errorf("cached fin-quotes tools missing from toolset %v", toolNames(req))
		}
		if results := invokeDiscover(t, ctx, req, []string{"stock price today"}); len(results) != 0 {
			t.Errorf("discovery results = %v, want empty while fin-quotes is cached", results)
		}
		return ExecResult{FinalText: "still 190", TouchedHandles: []string{"fin-quotes"}}, nil
	}
	if _, err := fix.router.HandleTurn(ctx, "", "and now?"); err != nil {
		t.Fatalf("second HandleTurn: %v", err)
	}
	if n := fix.transport.openCount("fin-quotes"); n != 1 {
		t.Errorf("fin-quotes opened %d times after reuse, want still 1", n)
	}
	if got := fix.router.UsageTotals()["fin-quotes"].Successes; got != 2 {
		t.Errorf("fin-quotes successes = %d, want 2", got)
	}
}

func TestRouterBrokenServerQuarantined(t *testing.T) {
	catalog := append(testCatalog(), geoWeatherEntry())
	fix := newTestRouter(t, Config{}, catalog)
	fix.transport.fail["geo-weather"] = true
	ctx := context.Background()

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		results := invokeDiscover(t, ctx, req, []string{"weather forecast"})
		if len(results) != 0 {
			t.Errorf("discovery results = %v, want the broken server omitted", results)
		}
		return ExecResult{}, &ErrAgent{Reason: "no weather source available", Recoverable: true}
	}

	_, err := fix.router.HandleTurn(ctx, "", "will it rain tomorrow?")
	var aerr *ErrAgent
	if !errors.As(err, &aerr) {
		t.Fatalf("HandleTurn = %v, want *ErrAgent", err)
	}
	if !aerr.Recoverable {
		t.Error("Recoverable = false, want a retryable failure")
	}

	if got := fix.router.CacheContents(); len(got) != 0 {
		t.Errorf("CacheContents = %v, want the broken server kept out", got)
	}
	rec, ok := fix.router.HealthSnapshot()["geo-weather"]
	if !ok || rec.ConsecutiveFailures != 1 {
		t.Errorf("health record = %+v, %v; want one failure for geo-weather", rec, ok)
	}
	if got := fix.router.UsageTotals()["geo-weather"]; got.Failures != 1 || got.Successes != 0 {
		t.Errorf("geo-weather usage = %+v, want exactly one failure", got)
	}
	if got := fix.router.session("").history.Len(); got != 0 {
		t.Errorf("history length = %d after failed turn, want 0", got)
	}

	// While cooling down the handle is invisible to discovery and the
	// transport is not asked again.
	opens := fix.transport.openCount("geo-weather")
	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		if results := invokeDiscover(t, ctx, req, []string{"weather forecast"}); len(results) != 0 {
			t.Errorf("discovery results = %v, want empty during cooldown", results)
		}
		return ExecResult{FinalText: "I cannot check the weather right now.", TouchedHandles: []string{}}, nil
	}
	if _, err := fix.router.HandleTurn(ctx, "", "weather?"); err != nil {
		t.Fatalf("HandleTurn during cooldown: %v", err)
	}
	if n := fix.transport.openCount("geo-weather"); n != opens {
		t.Errorf("geo-weather opened %d more times during cooldown", n-opens)
	}
	if got := fix.router.session("").history.Len(); got != 2 {
		t.Errorf("history length = %d, want the recovery turn recorded", got)
	}
}

func TestRouterCooldownExpiryRestoresDiscovery(t *testing.T) {
	catalog := append(testCatalog(), geoWeatherEntry())
	fix := newTestRouter(t, Config{HealthCooldown: time.Minute}, catalog)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	fix.router.health.now = func() time.Time { return now }

	fix.router.QuarantineBinding("geo-weather")

	results, err := fix.router.SearchCatalog(ctx, []string{"weather forecast"})
	if err != nil {
		t.Fatalf("SearchCatalog: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v during cooldown, want empty", results)
	}

	now = base.Add(2 * time.Minute)
	results, err = fix.router.SearchCatalog(ctx, []string{"weather forecast"})
	if err != nil {
		t.Fatalf("SearchCatalog: %v", err)
	}
	if len(results) != 1 || results[0].Handle != "geo-weather" {
		t.Errorf("results = %v after cooldown, want geo-weather back", results)
	}
}

func TestRouterFailedTurnEvictsOnlyNewHandles(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	// Turn 1 caches fin-quotes and succeeds.
	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		invokeDiscover(t, ctx, req, []string{"stock price today"})
		return ExecResult{FinalText: "done", TouchedHandles: []string{"fin-quotes"}}, nil
	}
	if _, err := fix.router.HandleTurn(ctx, "", "stocks"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	// Turn 2 discovers news-wire, then the turn fails.
	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		results := invokeDiscover(t, ctx, req, []string{"latest news headline"})
		if len(results) != 1 || results[0].Handle != "news-wire" {
			t.Fatalf("discovery results = %v, want news-wire", results)
		}
		return ExecResult{TouchedHandles: []string{"news-wire"}}, &ErrAgent{Reason: "step budget of 20 exhausted without a final answer", Recoverable: true}
	}
	if _, err := fix.router.HandleTurn(ctx, "", "news"); err == nil {
		t.Fatal("turn 2 = nil error, want failure")
	}

	if got := fix.router.CacheContents(); !reflect.DeepEqual(got, []string{"fin-quotes"}) {
		t.Errorf("CacheContents = %v, want only the pre-existing fin-quotes", got)
	}
	if b := fix.transport.binding("news-wire"); b == nil || b.closeCount() != 1 {
		t.Error("evicted news-wire binding was not closed exactly once")
	}
	if _, failed := fix.router.HealthSnapshot()["fin-quotes"]; failed {
		t.Error("fin-quotes marked unhealthy by a failure it did not cause")
	}
	if _, failed := fix.router.HealthSnapshot()["news-wire"]; !failed {
		t.Error("news-wire not marked unhealthy after the failed turn")
	}
	if got := fix.router.UsageTotals()["news-wire"]; got.Failures != 1 {
		t.Errorf("news-wire usage = %+v, want one failure", got)
	}
	if got := fix.router.UsageTotals()["fin-quotes"]; got.Failures != 0 || got.Successes != 1 {
		t.Errorf("fin-quotes usage = %+v, want untouched by the failed turn", got)
	}
	if got := fix.router.session("").history.Len(); got != 2 {
		t.Errorf("history length = %d, want only the successful turn", got)
	}
}

func TestRouterPreloadFromUsageHistory(t *testing.T) {
	dir := t.TempDir()
	writeUsageFile(t, dir, []UsageRecord{
		{TS: 1000, Handle: "ghost-srv", Outcome: OutcomeSuccess},
		{TS: 1001, Handle: "ghost-srv", Outcome: OutcomeSuccess},
		{TS: 1002, Handle: "ghost-srv", Outcome: OutcomeSuccess},
		{TS: 1003, Handle: "fin-quotes", Outcome: OutcomeSuccess},
		{TS: 1004, Handle: "fin-quotes", Outcome: OutcomeSuccess},
		{TS: 1005, Handle: "news-wire", Outcome: OutcomeSuccess},
	})

	fix := newTestRouter(t, Config{DataDir: dir, PreloadCount: 1}, testCatalog())

	// ghost-srv leads the ranking but is no longer in the catalog; the
	// preload budget goes to fin-quotes.
	if got := fix.router.CacheContents(); !reflect.DeepEqual(got, []string{"fin-quotes"}) {
		t.Errorf("CacheContents = %v, want [fin-quotes]", got)
	}
	if n := fix.transport.openCount("news-wire"); n != 0 {
		t.Errorf("news-wire opened %d times, want 0 with the budget spent", n)
	}
}

func TestRouterPreloadSkipsFailedOpens(t *testing.T) {
	dir := t.TempDir()
	writeUsageFile(t, dir, []UsageRecord{
		{TS: 1000, Handle: "fin-quotes", Outcome: OutcomeSuccess},
		{TS: 1001, Handle: "fin-quotes", Outcome: OutcomeSuccess},
		{TS: 1002, Handle: "news-wire", Outcome: OutcomeSuccess},
	})

	fix := newUninitializedRouter(t, Config{DataDir: dir, PreloadCount: 1}, testCatalog())
	fix.transport.fail["fin-quotes"] = true
	if err := fix.router.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := fix.router.CacheContents(); !reflect.DeepEqual(got, []string{"news-wire"}) {
		t.Errorf("CacheContents = %v, want the next ranked handle", got)
	}
	// A preload failure is not a serving failure: no quarantine, no metrics.
	if len(fix.router.HealthSnapshot()) != 0 {
		t.Errorf("HealthSnapshot = %v, want empty", fix.router.HealthSnapshot())
	}
	if got := fix.router.UsageTotals()["fin-quotes"]; got.Failures != 0 {
		t.Errorf("fin-quotes failures = %d, want 0 from preload", got.Failures)
	}
	if got := len(readMetricsLines(t, filepath.Join(dir, metricsFileName))); got != 3 {
		t.Errorf("usage file has %d lines after preload, want the original 3", got)
	}
}

func TestRouterFirstRunHasNoPreload(t *testing.T) {
	fix := newTestRouter(t, Config{PreloadCount: 5}, testCatalog())
	if got := fix.router.CacheContents(); len(got) != 0 {
		t.Errorf("CacheContents = %v, want empty with no usage history", got)
	}
	if len(fix.transport.opened) != 0 {
		t.Errorf("transport opened %v on a first run", fix.transport.opened)
	}
}

func TestRouterKeywordNudge(t *testing.T) {
	cfg := Config{
		KeywordNudge: map[string]NudgeRule{
			"finance": {Keywords: []string{"stock"}, Queries: []string{"stock price data"}},
		},
	}
	fix := newTestRouter(t, cfg, testCatalog())
	ctx := context.Background()

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		// The nudge already connected fin-quotes before the first step.
		if _, ok := findTool(req, "fin_quotes_lookup"); !ok {
			t.Errorf("toolset %v missing nudged fin-quotes tools", toolNames(req))
		}
		return ExecResult{FinalText: "190", TouchedHandles: []string{"fin-quotes"}}, nil
	}

	if _, err := fix.router.HandleTurn(ctx, "", "check the STOCK for me"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if n := fix.transport.openCount("fin-quotes"); n != 1 {
		t.Errorf("fin-quotes opened %d times, want 1", n)
	}

	// The finance category is now covered, so the same keywords stay quiet.
	if _, err := fix.router.HandleTurn(ctx, "", "stock again please"); err != nil {
		t.Fatalf("second HandleTurn: %v", err)
	}
	if n := fix.transport.openCount("fin-quotes"); n != 1 {
		t.Errorf("fin-quotes opened %d times after covered nudge, want still 1", n)
	}
}

func TestRouterNudgedBindingSurvivesFailedTurn(t *testing.T) {
	cfg := Config{
		KeywordNudge: map[string]NudgeRule{
			"finance": {Keywords: []string{"stock"}, Queries: []string{"stock price data"}},
		},
	}
	fix := newTestRouter(t, cfg, testCatalog())

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		return ExecResult{TouchedHandles: []string{}}, &ErrAgent{Reason: "provider stub failed", Recoverable: true}
	}

	if _, err := fix.router.HandleTurn(context.Background(), "", "stock check"); err == nil {
		t.Fatal("HandleTurn = nil error, want failure")
	}

	// The heuristic opened fin-quotes before the agent ran, so the failed
	// turn does not tear it down.
	if got := fix.router.CacheContents(); !reflect.DeepEqual(got, []string{"fin-quotes"}) {
		t.Errorf("CacheContents = %v, want the nudged binding kept", got)
	}
	if _, failed := fix.router.HealthSnapshot()["fin-quotes"]; failed {
		t.Error("nudged binding quarantined by an unrelated turn failure")
	}
}

func TestRouterCachedBindingBypassesCooldown(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	if err := fix.router.TryBind(ctx, "fin-quotes"); err != nil {
		t.Fatalf("TryBind: %v", err)
	}
	fix.router.health.MarkFail("fin-quotes")

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		if _, ok := findTool(req, "fin_quotes_lookup"); !ok {
			t.Errorf("toolset %v dropped a cached binding during cooldown", toolNames(req))
		}
		return ExecResult{FinalText: "ok", TouchedHandles: []string{}}, nil
	}
	if _, err := fix.router.HandleTurn(ctx, "", "hello"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
}

func TestRouterTouchedFallbackMarksAllCached(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	if err := fix.router.TryBind(ctx, "fin-quotes"); err != nil {
		t.Fatal(err)
	}
	if err := fix.router.TryBind(ctx, "news-wire"); err != nil {
		t.Fatal(err)
	}

	fix.executor.fn = func(context.Context, ExecRequest) (ExecResult, error) {
		return ExecResult{FinalText: "ok"}, nil // TouchedHandles nil
	}
	if _, err := fix.router.HandleTurn(ctx, "", "hello"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	totals := fix.router.UsageTotals()
	if totals["fin-quotes"].Successes != 1 || totals["news-wire"].Successes != 1 {
		t.Errorf("totals = %v, want one success for every cached handle", totals)
	}
}

func TestRouterSurfacesOnlyAgentErrors(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	plain := errors.New("boom")
	fix.executor.fn = func(context.Context, ExecRequest) (ExecResult, error) {
		return ExecResult{}, plain
	}
	_, err := fix.router.HandleTurn(ctx, "", "hello")
	var aerr *ErrAgent
	if !errors.As(err, &aerr) {
		t.Fatalf("HandleTurn = %T, want *ErrAgent", err)
	}
	if aerr.Recoverable {
		t.Error("arbitrary executor errors must not be marked recoverable")
	}
	if !errors.Is(err, plain) {
		t.Error("the executor error is not wrapped")
	}

	agentErr := &ErrAgent{Reason: "timeout", Recoverable: true}
	fix.executor.fn = func(context.Context, ExecRequest) (ExecResult, error) {
		return ExecResult{}, agentErr
	}
	_, err = fix.router.HandleTurn(ctx, "", "hello")
	if !errors.As(err, &aerr) || aerr != agentErr {
		t.Errorf("HandleTurn = %v, want the executor's *ErrAgent passed through", err)
	}
}

func TestRouterSessionsAreIsolated(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	if _, err := fix.router.HandleTurn(ctx, "alice", "alice's secret question"); err != nil {
		t.Fatal(err)
	}
	if _, err := fix.router.HandleTurn(ctx, "bob", "bob's question"); err != nil {
		t.Fatal(err)
	}
	if _, err := fix.router.HandleTurn(ctx, "alice", "alice again"); err != nil {
		t.Fatal(err)
	}

	reqs := fix.executor.requests()
	if len(reqs) != 3 {
		t.Fatalf("executor ran %d times, want 3", len(reqs))
	}
	for _, m := range reqs[1].Messages {
		if strings.Contains(m.Content, "alice's secret question") {
			t.Error("bob's turn can read alice's history")
		}
	}
	// Same session keeps its own history: system prompt, two turn-1
	// messages, then the new user message.
	if got := len(reqs[2].Messages); got != 4 {
		t.Errorf("alice's second request carries %d messages, want 4", got)
	}

	if fix.router.session("") != fix.router.session("default") {
		t.Error("empty session id does not map to the default session")
	}
}

func TestRouterInstructionsReflectCache(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())
	ctx := context.Background()

	cold := fix.router.buildInstructions()
	if !strings.Contains(cold, "No tool servers are connected yet.") {
		t.Errorf("cold instructions = %q, want the empty-cache notice", cold)
	}
	if !strings.Contains(cold, DiscoverToolName) {
		t.Error("instructions never mention the discovery tool")
	}

	if err := fix.router.TryBind(ctx, "fin-quotes"); err != nil {
		t.Fatal(err)
	}
	warm := fix.router.buildInstructions()
	if !strings.Contains(warm, "Fin Quotes: Real-time stock quotes and ticker prices") {
		t.Errorf("warm instructions = %q, want the cached server listed", warm)
	}
	if !strings.Contains(warm, "covers: stock, ticker") {
		t.Errorf("warm instructions = %q, want the keyword summary", warm)
	}
	if strings.Contains(warm, "No tool servers are connected yet.") {
		t.Error("warm instructions still claim no servers are connected")
	}

	// The system prompt is rebuilt per turn, not stored in history.
	fix.executor.fn = func(_ context.Context, req ExecRequest) (ExecResult, error) {
		if req.Messages[0].Role != "system" {
			t.Errorf("first message role = %q, want system", req.Messages[0].Role)
		}
		return ExecResult{FinalText: "ok", TouchedHandles: []string{}}, nil
	}
	if _, err := fix.router.HandleTurn(ctx, "", "hello"); err != nil {
		t.Fatal(err)
	}
	if got := fix.router.session("").history.Len(); got != 2 {
		t.Errorf("history length = %d, want instructions kept out of history", got)
	}
}

func TestRouterDiscoverBindingK(t *testing.T) {
	charts := ServerEntry{
		Handle:      "stock-charts",
		DisplayName: "Stock Charts",
		Category:    "finance",
		Description: "Charts for stock tickers",
		Keywords:    []string{"stock", "ticker"},
		Transport:   TransportSpec{Kind: "stdio", Command: "stock-charts"},
	}
	catalog := append(testCatalog(), charts)
	fix := newTestRouter(t, Config{DiscoverBindingK: 2}, catalog)

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		results := invokeDiscover(t, ctx, req, []string{"stock ticker"})
		if len(results) != 2 {
			t.Fatalf("discovery results = %v, want both stock servers", results)
		}
		return ExecResult{FinalText: "ok", TouchedHandles: []string{}}, nil
	}
	if _, err := fix.router.HandleTurn(context.Background(), "", "stocks"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	cached := fix.router.CacheContents()
	if len(cached) != 2 {
		t.Fatalf("CacheContents = %v, want two bindings opened", cached)
	}
	if fix.transport.openCount("stock-charts") != 1 || fix.transport.openCount("fin-quotes") != 1 {
		t.Errorf("opens = %v, want one per discovered handle", fix.transport.opened)
	}
}

func TestRouterEvictionClosesExactlyOnce(t *testing.T) {
	catalog := append(testCatalog(), geoWeatherEntry())
	fix := newTestRouter(t, Config{MaxCacheSize: 2}, catalog)
	ctx := context.Background()

	for _, h := range []string{"fin-quotes", "news-wire", "geo-weather"} {
		if err := fix.router.TryBind(ctx, h); err != nil {
			t.Fatalf("TryBind(%s): %v", h, err)
		}
	}

	if got := fix.router.CacheContents(); !reflect.DeepEqual(got, []string{"geo-weather", "news-wire"}) {
		t.Errorf("CacheContents = %v, want the two most recent", got)
	}
	if n := fix.transport.binding("fin-quotes").closeCount(); n != 1 {
		t.Errorf("evicted binding closed %d times, want 1", n)
	}

	if err := fix.router.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := fix.transport.binding("news-wire").closeCount(); n != 1 {
		t.Errorf("news-wire closed %d times, want 1", n)
	}
	if n := fix.transport.binding("geo-weather").closeCount(); n != 1 {
		t.Errorf("geo-weather closed %d times, want 1", n)
	}
	if n := fix.transport.binding("fin-quotes").closeCount(); n != 1 {
		t.Errorf("previously evicted binding closed again at shutdown, count %d", n)
	}
	if got := fix.router.CacheContents(); len(got) != 0 {
		t.Errorf("CacheContents = %v after Shutdown, want empty", got)
	}
}

func TestRouterTryBindUnknownHandle(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())

	err := fix.router.TryBind(context.Background(), "ghost-srv")
	var oerr *ErrTransportOpen
	if !errors.As(err, &oerr) {
		t.Fatalf("TryBind = %v, want *ErrTransportOpen", err)
	}
	if oerr.Handle != "ghost-srv" {
		t.Errorf("Handle = %q, want ghost-srv", oerr.Handle)
	}
}

func TestRouterEmptyCatalog(t *testing.T) {
	fix := newTestRouter(t, Config{}, nil)
	ctx := context.Background()

	fix.executor.fn = func(ctx context.Context, req ExecRequest) (ExecResult, error) {
		if results := invokeDiscover(t, ctx, req, []string{"anything at all"}); len(results) != 0 {
			t.Errorf("discovery results = %v on an empty catalog", results)
		}
		return ExecResult{FinalText: "no tools needed", TouchedHandles: []string{}}, nil
	}
	reply, err := fix.router.HandleTurn(ctx, "", "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reply != "no tools needed" {
		t.Errorf("reply = %q", reply)
	}
}

func TestRouterQuarantineBinding(t *testing.T) {
	fix := newTestRouter(t, Config{}, testCatalog())

	fix.router.QuarantineBinding("news-wire")

	if fix.router.health.IsHealthy("news-wire") {
		t.Error("news-wire still healthy after quarantine")
	}
	if got := fix.router.UsageTotals()["news-wire"].Failures; got != 1 {
		t.Errorf("news-wire failures = %d, want 1", got)
	}
	events := fix.router.RecentEvents(1)
	if len(events) != 1 || events[0].Handle != "news-wire" || events[0].Outcome != OutcomeFailure {
		t.Errorf("RecentEvents = %v, want the quarantine failure", events)
	}
}
