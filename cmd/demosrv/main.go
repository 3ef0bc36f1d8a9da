// Binary demosrv is a small MCP tool server over stdio, for exercising the
// router end to end without any external services.
//
// Usage in switchboard.toml:
//
//	[[servers]]
//	handle = "demo"
//	display_name = "Demo Tools"
//	category = "demo"
//	description = "Echo, clock, arithmetic, and web page reading"
//	kind = "stdio"
//	command = "demosrv"
//
// Diagnostics go to stderr; stdout carries only protocol traffic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/switchboard/mcp"

	"github.com/go-shiori/go-readability"
)

func main() {
	log.SetOutput(os.Stderr)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	srv := mcp.New("demosrv", "0.1.0")
	srv.SetLogger(logger)

	srv.AddTool(mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "echo",
			Description: "Echo the given text back. Useful for verifying the tool round trip.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to echo back"},
				},
				"required": []string{"text"},
			},
		},
		Execute: echoHandler,
	})

	srv.AddTool(mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "current_time",
			Description: "Get the current time. Formats: rfc3339 (default), unix, kitchen.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"format": map[string]any{"type": "string", "description": "rfc3339, unix, or kitchen"},
				},
			},
		},
		Execute: currentTimeHandler,
	})

	srv.AddTool(mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "add_numbers",
			Description: "Add two numbers together.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number"},
					"b": map[string]any{"type": "number"},
				},
				"required": []string{"a", "b"},
			},
		},
		Execute: addNumbersHandler,
	})

	srv.AddTool(mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "read_page",
			Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{"type": "string", "description": "URL to fetch"},
				},
				"required": []string{"url"},
			},
		},
		Execute: readPageHandler(&http.Client{Timeout: 15 * time.Second}),
	})

	srv.AddResource(mcp.Resource{
		URI:         "demo://info",
		Name:        "Server Info",
		Description: "Name and version of this demo server",
		MimeType:    "application/json",
		Read: func() string {
			return `{"server":"demosrv","version":"0.1.0","status":"running"}`
		},
	})

	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("demosrv: %v", err)
	}
}

func echoHandler(_ context.Context, args json.RawMessage) mcp.ToolCallResult {
	var params struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.ErrorResult("invalid args: " + err.Error())
	}
	return mcp.TextResult(params.Text)
}

func currentTimeHandler(_ context.Context, args json.RawMessage) mcp.ToolCallResult {
	var params struct {
		Format string `json:"format"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return mcp.ErrorResult("invalid args: " + err.Error())
		}
	}

	now := time.Now()
	switch params.Format {
	case "", "rfc3339":
		return mcp.TextResult(now.Format(time.RFC3339))
	case "unix":
		return mcp.TextResult(strconv.FormatInt(now.Unix(), 10))
	case "kitchen":
		return mcp.TextResult(now.Format(time.Kitchen))
	default:
		return mcp.ErrorResult("unknown format: " + params.Format)
	}
}

func addNumbersHandler(_ context.Context, args json.RawMessage) mcp.ToolCallResult {
	var params struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return mcp.ErrorResult("invalid args: " + err.Error())
	}
	return mcp.TextResult(strconv.FormatFloat(params.A+params.B, 'f', -1, 64))
}

// readPageHandler returns a tool handler that fetches a URL and extracts
// readable text, truncating long pages so results stay model-sized.
func readPageHandler(client *http.Client) func(context.Context, json.RawMessage) mcp.ToolCallResult {
	return func(ctx context.Context, args json.RawMessage) mcp.ToolCallResult {
		var params struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return mcp.ErrorResult("invalid args: " + err.Error())
		}

		text, err := fetchReadable(ctx, client, params.URL)
		if err != nil {
			return mcp.ErrorResult(err.Error())
		}
		if len(text) > 8000 {
			text = text[:8000] + "\n... (truncated)"
		}
		return mcp.TextResult(text)
	}
}

// fetchReadable downloads a URL and extracts its readable text.
func fetchReadable(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; demosrv/0.1)")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable text at %s", rawURL)
	}
	return text, nil
}
