package switchboard

import (
	"context"
	"encoding/json"
	"log/slog"
)

// DiscoverToolName is the name the discovery meta-tool is exposed under.
const DiscoverToolName = "discover_tools"

// discoverSchema describes the meta-tool's arguments to the model.
const discoverSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Two or three short queries describing the needed capability, e.g. [\"stock prices\", \"financial quotes\"]."
    }
  },
  "required": ["queries"]
}`

// DiscoveryPort is the narrow slice of the router the discovery meta-tool
// operates through. The small surface keeps the agent-facing tool decoupled
// from the router and testable on its own.
type DiscoveryPort interface {
	// SearchCatalog scores the catalog against queries. Handles that are
	// already cached or quarantined never appear in the result.
	SearchCatalog(ctx context.Context, queries []string) ([]SearchResult, error)
	// TryBind opens a binding for handle and installs it in the cache.
	TryBind(ctx context.Context, handle string) error
	// QuarantineBinding records handle as failed in health and metrics.
	QuarantineBinding(handle string)
}

// discoverTool is the discover_tools meta-tool. One call searches the
// catalog, connects the best matches as a side effect, and reports the
// findings back to the model.
type discoverTool struct {
	port   DiscoveryPort
	bindK  int
	logger *slog.Logger
}

func newDiscoverTool(port DiscoveryPort, bindK int, logger *slog.Logger) *discoverTool {
	if bindK < 1 {
		bindK = 1
	}
	if logger == nil {
		logger = nopLogger
	}
	return &discoverTool{port: port, bindK: bindK, logger: logger.With("component", "discovery")}
}

func (d *discoverTool) definition() ToolDefinition {
	return ToolDefinition{
		Name: DiscoverToolName,
		Description: "Search the server catalog for capabilities you do not currently have. " +
			"Pass short queries describing what you need; the best match is connected and " +
			"its tools become available on your next step. Always try this before declining a request.",
		Parameters: json.RawMessage(discoverSchema),
	}
}

type discoverArgs struct {
	Queries []string `json:"queries"`
}

// run is the meta-tool entry point invoked by the agent executor.
func (d *discoverTool) run(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var parsed discoverArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ToolResult{Error: `invalid arguments, expected {"queries": ["..."]}`}, nil
	}
	results := d.discover(ctx, parsed.Queries)
	payload, err := json.Marshal(results)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: string(payload)}, nil
}

// discover runs one discovery round and returns what the agent should see.
// The top bindK results are opened and cached; a handle whose binding fails
// to open is quarantined and dropped from the returned list. Search errors
// mid-turn degrade to an empty result rather than failing the turn.
func (d *discoverTool) discover(ctx context.Context, queries []string) []SearchResult {
	d.logger.Debug("discovering", "queries", queries)
	results, err := d.port.SearchCatalog(ctx, queries)
	if err != nil {
		d.logger.Warn("catalog search failed", "error", err)
		return []SearchResult{}
	}

	out := make([]SearchResult, 0, len(results))
	for i, res := range results {
		if i < d.bindK {
			if err := d.port.TryBind(ctx, res.Handle); err != nil {
				d.logger.Warn("could not open discovered binding",
					"handle", res.Handle, "error", err)
				d.port.QuarantineBinding(res.Handle)
				continue
			}
			d.logger.Info("discovered and connected", "handle", res.Handle, "score", res.Score)
		}
		out = append(out, res)
	}
	return out
}
