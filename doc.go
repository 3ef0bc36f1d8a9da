// Package switchboard is a self-improving tool router for LLM agents.
//
// Given a natural-language user turn, the router decides which tool servers
// the agent may reach this turn, runs the agent against that set, lets the
// agent expand the set mid-turn through the discover_tools meta-tool
// (semantic search over a registered catalog), and learns across turns which
// servers to keep warm, which to quarantine, and which to preload at the
// next startup.
//
// # Quick Start
//
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//	embedding := openaicompat.NewEmbedding(apiKey, embedModel, baseURL)
//
//	rt, err := switchboard.New(switchboard.DefaultConfig(), switchboard.Deps{
//		Catalog:   catalog,
//		Embedding: embedding,
//		Executor:  switchboard.NewLLMExecutor(provider),
//		Transport: mcp.NewOpener("myapp", "0.1.0", nil),
//	})
//	if err != nil { ... }
//	if err := rt.Initialize(ctx); err != nil { ... }
//	defer rt.Shutdown(ctx)
//
//	reply, err := rt.HandleTurn(ctx, sessionID, "What is MSFT trading at?")
//
// # Core Interfaces
//
// The root package defines the contracts the router consumes:
//
//   - [Provider]: LLM backend (chat with tool calling)
//   - [EmbeddingProvider]: text-to-vector embedding for catalog search
//   - [Transport]: opens a [Binding] (live connection plus tools) from a catalog entry
//   - [AgentExecutor]: runs one agent execution against an assembled toolset
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI, Groq, Ollama, vLLM, and other
// compatible APIs, chat + embeddings). Transports: mcp (Model Context
// Protocol client over stdio and streamable HTTP; the package also contains
// the server side used by cmd/demosrv). Observability: observer (OTEL
// wrappers for providers, embeddings, transports, and the executor, plus
// per-turn spans via Instruments.StartTurn).
//
// See cmd/switchboard for a complete wiring: console REPL or HTTP façade.
package switchboard
