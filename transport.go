package switchboard

import (
	"context"
	"encoding/json"
)

// Binding is a live connection to a tool server plus the tools it exposes.
// It is the runtime counterpart of a ServerEntry and exists only in memory:
// created on preload or discovery, destroyed on eviction or shutdown.
type Binding interface {
	// Definitions lists the tools the server exposes.
	Definitions() []ToolDefinition
	// Execute invokes one tool by name.
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
	// Close releases the connection. Safe to call exactly once per binding;
	// the cache guarantees it is never called twice.
	Close() error
}

// Transport opens bindings from transport specs. Implementations live
// outside the router core (see the mcp package); the router only ever calls
// Open and Binding.Close.
type Transport interface {
	Open(ctx context.Context, spec TransportSpec) (Binding, error)
}
