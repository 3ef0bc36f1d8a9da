// Binary switchboard runs the self-improving tool router against a live
// OpenAI-compatible endpoint and the MCP servers listed in its config.
//
// By default it is a console REPL; -serve runs the web panel instead:
//
//	switchboard -config switchboard.toml
//	switchboard -serve :8080
//
// The config path falls back to $SWITCHBOARD_CONFIG, then ./switchboard.toml.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	switchboard "github.com/nevindra/switchboard"
	"github.com/nevindra/switchboard/internal/config"
	"github.com/nevindra/switchboard/internal/webui"
	"github.com/nevindra/switchboard/mcp"
	"github.com/nevindra/switchboard/observer"
	"github.com/nevindra/switchboard/provider/openaicompat"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to switchboard.toml (default: $SWITCHBOARD_CONFIG, then ./switchboard.toml)")
	serveAddr := flag.String("serve", "", "serve the web panel on this address instead of the REPL (empty value falls back to [web] listen)")
	flag.Parse()

	webMode := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "serve" {
			webMode = true
		}
	})

	// 1. Load config
	path := *configPath
	if path == "" {
		path = os.Getenv("SWITCHBOARD_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.LLM.APIKey == "" {
		log.Fatal("no LLM API key; set [llm] api_key or SWITCHBOARD_LLM_API_KEY")
	}

	// 2. Logger. The web panel tees every record into its live log stream.
	level := slog.LevelInfo
	if cfg.Router.Debug {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	var logs *webui.LogStream
	if webMode {
		logs = webui.NewLogStream(0)
		handler = logs.Handler(handler)
	}
	logger := slog.New(handler)

	// 3. Providers, retry-wrapped so transient 429/503s never reach the router
	var llm switchboard.Provider = openaicompat.NewProvider(
		cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openaicompat.WithName(cfg.LLM.Name),
	)
	embOpts := []openaicompat.EmbeddingOption{openaicompat.WithEmbeddingName(cfg.Embedding.Name)}
	if cfg.Embedding.Dimensions > 0 {
		embOpts = append(embOpts, openaicompat.WithDimensions(cfg.Embedding.Dimensions))
	}
	var embedding switchboard.EmbeddingProvider = openaicompat.NewEmbedding(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL,
		embOpts...,
	)
	llm = switchboard.WithRetry(llm, switchboard.RetryLogger(logger))
	embedding = switchboard.WithEmbeddingRetry(embedding, switchboard.RetryLogger(logger))
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		var limits []switchboard.RateLimitOption
		if cfg.LLM.RPM > 0 {
			limits = append(limits, switchboard.RPM(cfg.LLM.RPM))
		}
		if cfg.LLM.TPM > 0 {
			limits = append(limits, switchboard.TPM(cfg.LLM.TPM))
		}
		llm = switchboard.WithRateLimit(llm, limits...)
	}

	// 4. Observer (opt-in via config)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}

		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(context.Background(), pricing)
		if err != nil {
			log.Fatalf("observer: init failed: %v", err)
		}
		defer shutdown(context.Background())

		llm = observer.WrapProvider(llm, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		logger.Info("OTEL observability enabled")
	}

	// 5. Transport + executor
	var transport switchboard.Transport = mcp.NewOpener("switchboard", version, logger)
	var executor switchboard.AgentExecutor = switchboard.NewLLMExecutor(llm, switchboard.WithExecutorLogger(logger))
	if inst != nil {
		transport = observer.WrapTransport(transport, inst)
		executor = observer.WrapExecutor(executor, inst)
	}

	// 6. Router
	catalog := cfg.Catalog()
	if len(catalog) == 0 {
		logger.Warn("catalog is empty; add [[servers]] tables to the config")
	}
	router, err := switchboard.New(cfg.ToRouterConfig(), switchboard.Deps{
		Catalog:   catalog,
		Embedding: embedding,
		Executor:  executor,
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := router.Initialize(ctx); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	// 7. Run
	if webMode {
		addr := *serveAddr
		if addr == "" {
			addr = cfg.Web.Listen
		}
		err = runWeb(ctx, router, inst, logs, logger, addr)
	} else {
		err = runREPL(ctx, router, inst)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := router.Shutdown(shutdownCtx); serr != nil {
		logger.Error("shutdown", "error", serr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
}

// runWeb serves the embedded panel until ctx is cancelled.
func runWeb(ctx context.Context, router *switchboard.Router, inst *observer.Instruments, logs *webui.LogStream, logger *slog.Logger, addr string) error {
	var api webui.RouterAPI = router
	if inst != nil {
		api = observedRouter{Router: router, inst: inst}
	}
	srv := webui.NewServer(api, logs, logger)
	logger.Info("web panel listening", "addr", addr)
	return srv.ListenAndServe(ctx, addr)
}

// observedRouter wraps HandleTurn in a router.turn span; every other
// RouterAPI method comes from the embedded router.
type observedRouter struct {
	*switchboard.Router
	inst *observer.Instruments
}

func (o observedRouter) HandleTurn(ctx context.Context, sessionID, text string) (string, error) {
	ctx, turn := o.inst.StartTurn(ctx, sessionID)
	reply, err := o.Router.HandleTurn(ctx, sessionID, text)
	turn.End(reply, err)
	return reply, err
}

// runREPL reads lines from stdin and routes each one as a turn in a single
// session. Slash commands inspect the router without spending a turn.
func runREPL(ctx context.Context, router *switchboard.Router, inst *observer.Instruments) error {
	sessionID := switchboard.NewID()

	fmt.Println("switchboard " + version + " - type a message, or /help for commands")
	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit", "/q":
			return nil
		case "/help":
			fmt.Println("  /cache   show cached server bindings and their usage")
			fmt.Println("  /health  show quarantined servers")
			fmt.Println("  /quit    exit")
			continue
		case "/cache":
			printCache(router)
			continue
		case "/health":
			printHealth(router)
			continue
		}

		reply, err := handleTurn(ctx, router, inst, sessionID, line)
		if err != nil {
			if switchboard.IsRecoverable(err) {
				fmt.Printf("error (try again): %v\n", err)
			} else {
				fmt.Printf("error: %v\n", err)
			}
			continue
		}
		fmt.Println(reply)
	}
	return ctx.Err()
}

// handleTurn routes one turn, wrapped in a router.turn span when the
// observer is enabled.
func handleTurn(ctx context.Context, router *switchboard.Router, inst *observer.Instruments, sessionID, text string) (string, error) {
	if inst == nil {
		return router.HandleTurn(ctx, sessionID, text)
	}
	ctx, turn := inst.StartTurn(ctx, sessionID)
	reply, err := router.HandleTurn(ctx, sessionID, text)
	turn.End(reply, err)
	return reply, err
}

func printCache(router *switchboard.Router) {
	handles := router.CacheContents()
	if len(handles) == 0 {
		fmt.Println("cache is empty")
		return
	}
	totals := router.UsageTotals()
	for _, h := range handles {
		u := totals[h]
		fmt.Printf("  %-24s %d ok / %d failed\n", h, u.Successes, u.Failures)
	}
}

func printHealth(router *switchboard.Router) {
	snap := router.HealthSnapshot()
	if len(snap) == 0 {
		fmt.Println("all servers healthy")
		return
	}
	handles := make([]string, 0, len(snap))
	for h := range snap {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	for _, h := range handles {
		rec := snap[h]
		fmt.Printf("  %-24s %d consecutive failures, cooling down until %s\n",
			h, rec.ConsecutiveFailures, rec.CooldownUntil.Format(time.TimeOnly))
	}
}
