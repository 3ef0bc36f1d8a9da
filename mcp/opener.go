package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nevindra/switchboard"
)

// Opener dials MCP tool servers and adapts them to the router's Transport
// interface. One Opener serves any number of Open calls; every call yields
// an independent connection with its own handshake.
type Opener struct {
	name    string
	version string
	logger  *slog.Logger
}

var _ switchboard.Transport = (*Opener)(nil)

// NewOpener creates an Opener that identifies itself to servers with the
// given client name and version.
func NewOpener(name, version string, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{name: name, version: version, logger: logger}
}

// Open dials the server described by spec, performs the MCP handshake, and
// snapshots its tool list. The returned binding holds the live connection
// until Close.
func (o *Opener) Open(ctx context.Context, spec switchboard.TransportSpec) (switchboard.Binding, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	var (
		conn rpc
		err  error
	)
	switch spec.Kind {
	case "stdio":
		conn, err = dialStdio(ctx, spec, timeout, o.logger)
	case "http":
		conn, err = dialHTTP(spec, timeout)
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", spec.Kind)
	}
	if err != nil {
		return nil, err
	}

	return o.bind(ctx, newClient(conn, o.name, o.version, o.logger))
}

// bind runs the handshake on an already-dialed client and wraps it as a
// Binding. The client is closed on any failure so half-open connections
// never leak.
func (o *Opener) bind(ctx context.Context, c *Client) (switchboard.Binding, error) {
	if err := c.Initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	defs := make([]switchboard.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = switchboard.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		}
	}
	o.logger.Debug("bound tool server", "server", c.ServerName(), "tools", len(defs))
	return &binding{client: c, defs: defs}, nil
}

// binding adapts a connected Client to the router's Binding interface. The
// tool list is the snapshot taken at bind time; servers that change their
// tools mid-session need a re-open to be noticed.
type binding struct {
	client *Client
	defs   []switchboard.ToolDefinition
}

var _ switchboard.Binding = (*binding)(nil)

func (b *binding) Definitions() []switchboard.ToolDefinition {
	out := make([]switchboard.ToolDefinition, len(b.defs))
	copy(out, b.defs)
	return out
}

// Execute invokes one tool. A ToolCallResult with IsError set maps to
// ToolResult.Error: the tool ran but reported failure, which the executor
// feeds back to the model rather than aborting the turn.
func (b *binding) Execute(ctx context.Context, name string, args json.RawMessage) (switchboard.ToolResult, error) {
	res, err := b.client.CallTool(ctx, name, args)
	if err != nil {
		return switchboard.ToolResult{}, err
	}
	if res.IsError {
		return switchboard.ToolResult{Error: res.Text()}, nil
	}
	return switchboard.ToolResult{Content: res.Text()}, nil
}

func (b *binding) Close() error { return b.client.Close() }
